package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"bluhub/models"
)

// HTTPClient talks to a player's local control endpoint with JSON responses.
// One request per call, no retries, no shared state beyond the http.Client.
type HTTPClient struct {
	http   *http.Client
	logger *log.Entry
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		http: &http.Client{Timeout: timeout},
		logger: log.WithFields(log.Fields{
			"module": "device",
		}),
	}
}

type statusPayload struct {
	State          string `json:"state"`
	Title          string `json:"title1"`
	Artist         string `json:"title2"`
	Album          string `json:"title3"`
	Image          string `json:"image"`
	Service        string `json:"service"`
	TotalLength    int    `json:"totlen"`
	CurrentSeconds int    `json:"secs"`
}

type syncPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Model       string `json:"modelName"`
	Brand       string `json:"brand"`
	MAC         string `json:"mac"`
	Volume      int    `json:"volume"`
	FixedVolume int    `json:"db"`
	Master      string `json:"master"`
	Slaves      []struct {
		ID string `json:"id"`
	} `json:"slaves"`
	PairWith string `json:"pairWithSub"`
	Channel  string `json:"channelMode"`
	Group    string `json:"group"`
}

func (c *HTTPClient) get(ctx context.Context, address, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s%s", address, path), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, address, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", address, err)
	}
	return nil
}

func (c *HTTPClient) Query(ctx context.Context, address string) (models.PlaybackStatus, error) {
	var payload statusPayload
	if err := c.get(ctx, address, "/Status", &payload); err != nil {
		return models.PlaybackStatus{}, err
	}

	return models.PlaybackStatus{
		State:          parseState(payload.State),
		Title:          payload.Title,
		Artist:         payload.Artist,
		Album:          payload.Album,
		CoverURL:       payload.Image,
		ServiceName:    payload.Service,
		TotalSeconds:   payload.TotalLength,
		CurrentSeconds: payload.CurrentSeconds,
		CapturedAt:     time.Now(),
	}, nil
}

func (c *HTTPClient) SyncStatus(ctx context.Context, address string) (SyncInfo, error) {
	var payload syncPayload
	if err := c.get(ctx, address, "/SyncStatus", &payload); err != nil {
		return SyncInfo{}, err
	}

	info := SyncInfo{
		ID:            payload.ID,
		Name:          payload.Name,
		Model:         payload.Model,
		Brand:         payload.Brand,
		MACAddress:    payload.MAC,
		Volume:        payload.Volume,
		IsVolumeFixed: payload.FixedVolume != 0,
		Signal:        normalizeSignal(payload),
	}
	if info.ID == "" {
		info.ID = payload.MAC
	}
	return info, nil
}

func (c *HTTPClient) Command(ctx context.Context, address string, action Action, params map[string]string) error {
	path, err := commandPath(action, params)
	if err != nil {
		return err
	}

	c.logger.Debugf("sending %s to %s", action, address)

	var ack struct {
		State string `json:"state"`
	}
	return c.get(ctx, address, path, &ack)
}

func commandPath(action Action, params map[string]string) (string, error) {
	switch action {
	case ActionPlay:
		return "/Play", nil
	case ActionPause:
		return "/Pause", nil
	case ActionSkip:
		return "/Skip", nil
	case ActionBack:
		return "/Back", nil
	case ActionVolume:
		level, ok := params["level"]
		if !ok {
			return "", fmt.Errorf("volume action requires a level parameter")
		}
		return "/Volume?level=" + url.QueryEscape(level), nil
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

func parseState(raw string) models.PlayState {
	switch raw {
	case "play", "playing":
		return models.StatePlaying
	case "pause", "paused":
		return models.StatePaused
	case "stop", "stopped":
		return models.StateStopped
	case "stream", "streaming":
		return models.StateStreaming
	default:
		return models.StateUnknown
	}
}

// normalizeSignal folds the firmware's loosely typed grouping fields into the
// tagged signal the resolver consumes. Raw flags never leave this function.
func normalizeSignal(p syncPayload) models.GroupSignal {
	signal := models.GroupSignal{
		GroupName: p.Group,
	}

	if p.PairWith != "" {
		signal.IsStereoPaired = true
		signal.PairAddress = p.PairWith
		signal.Channel = parseChannel(p.Channel)
	}

	if p.Master != "" {
		signal.MasterAddress = p.Master
	} else if len(p.Slaves) > 0 {
		signal.IsMaster = true
	}

	return signal
}

func parseChannel(raw string) models.ChannelMode {
	switch raw {
	case "left", "1":
		return models.ChannelLeft
	case "right", "2":
		return models.ChannelRight
	case "front", "0":
		return models.ChannelFront
	default:
		return models.ChannelNone
	}
}
