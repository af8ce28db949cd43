package device

import (
	"context"
	"errors"
	"fmt"

	"bluhub/models"
)

// Action is a command verb understood by a player.
type Action string

const (
	ActionPlay   Action = "play"
	ActionPause  Action = "pause"
	ActionSkip   Action = "skip"
	ActionBack   Action = "back"
	ActionVolume Action = "volume"
)

var validActions = map[Action]bool{
	ActionPlay:   true,
	ActionPause:  true,
	ActionSkip:   true,
	ActionBack:   true,
	ActionVolume: true,
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !validActions[a] {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// ErrUnavailable marks a transient device failure (timeout, connection
// refused, device busy). Callers retry on their own schedule; the client
// never retries.
var ErrUnavailable = errors.New("device unavailable")

// SyncInfo is a player's self-description: identity plus the raw grouping
// signal, already normalized into models.GroupSignal.
type SyncInfo struct {
	ID            string
	Name          string
	Model         string
	Brand         string
	MACAddress    string
	Volume        int
	IsVolumeFixed bool
	Signal        models.GroupSignal
}

// Client performs one synchronous request against one physical player.
// Each call is bounded by the timeout the client was built with.
type Client interface {
	// Query fetches the player's current playback status.
	Query(ctx context.Context, address string) (models.PlaybackStatus, error)
	// SyncStatus fetches the player's identity and grouping signal.
	SyncStatus(ctx context.Context, address string) (SyncInfo, error)
	// Command issues an action with optional parameters (e.g. volume level).
	Command(ctx context.Context, address string, action Action, params map[string]string) error
}
