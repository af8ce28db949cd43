package models

import "time"

// Role is a player's place in the resolved topology. It is derived by the
// topology resolver and never stored.
type Role string

const (
	RoleSingle          Role = "single"
	RoleGroupMaster     Role = "groupMaster"
	RoleGroupSlave      Role = "groupSlave"
	RoleStereoPrimary   Role = "stereoPrimary"
	RoleStereoSecondary Role = "stereoSecondary"
)

type ChannelMode string

const (
	ChannelLeft  ChannelMode = "left"
	ChannelRight ChannelMode = "right"
	ChannelFront ChannelMode = "front"
	ChannelNone  ChannelMode = "none"
)

// GroupSignal is a player's self-reported grouping state, normalized from
// heterogeneous firmware fields at the device-client boundary so the resolver
// never inspects raw flags.
type GroupSignal struct {
	IsMaster       bool        `json:"isMaster"`
	MasterAddress  string      `json:"masterAddress,omitempty"`
	GroupName      string      `json:"groupName,omitempty"`
	IsStereoPaired bool        `json:"isStereoPaired"`
	PairAddress    string      `json:"pairAddress,omitempty"`
	Channel        ChannelMode `json:"channel,omitempty"`
}

// Player is one physical rendering unit as last discovered.
type Player struct {
	ID            string      `json:"id"`
	Address       string      `json:"address"`
	Name          string      `json:"name"`
	Model         string      `json:"model"`
	Brand         string      `json:"brand"`
	MACAddress    string      `json:"macAddress"`
	Volume        int         `json:"volume"`
	IsVolumeFixed bool        `json:"isVolumeFixed"`
	Signal        GroupSignal `json:"signal"`

	// Derived fields, populated on resolver output members only.
	Role        Role        `json:"role,omitempty"`
	GroupID     string      `json:"groupId,omitempty"`
	GroupName   string      `json:"groupName,omitempty"`
	ChannelMode ChannelMode `json:"channelMode,omitempty"`
}

type GroupKind string

const (
	GroupSingle     GroupKind = "single"
	GroupStereoPair GroupKind = "stereoPair"
	GroupMultiRoom  GroupKind = "multiRoom"
)

// PlayerGroup is one entry of the resolved topology. Transient; recomputed on
// every registry change.
type PlayerGroup struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Kind    GroupKind `json:"kind"`
	Master  *Player   `json:"master,omitempty"`
	Members []Player  `json:"members"`
}

// TotalMembers counts the master (when present) plus all members.
func (g *PlayerGroup) TotalMembers() int {
	n := len(g.Members)
	if g.Master != nil {
		n++
	}
	return n
}

type PlayState string

const (
	StatePlaying   PlayState = "playing"
	StatePaused    PlayState = "paused"
	StateStopped   PlayState = "stopped"
	StateStreaming PlayState = "streaming"
	StateUnknown   PlayState = "unknown"
)

// PlaybackStatus is a point-in-time snapshot of what one player is doing.
// CapturedAt is the wall-clock time of the underlying device query and is
// what staleness judgments are made against.
type PlaybackStatus struct {
	State          PlayState `json:"state"`
	Title          string    `json:"title"`
	Artist         string    `json:"artist"`
	Album          string    `json:"album"`
	CoverURL       string    `json:"coverUrl"`
	ServiceName    string    `json:"serviceName"`
	TotalSeconds   int       `json:"totalSeconds"`
	CurrentSeconds int       `json:"currentSeconds"`
	CapturedAt     time.Time `json:"capturedAt"`
}
