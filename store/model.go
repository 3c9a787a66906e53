package store

import (
	"time"
)

// TrackHandle is an opaque media track reference handed to the renderer.
type TrackHandle interface {
	ID() string
}

type Identity struct {
	UserId          string `json:"userId"`
	UserName        string `json:"userName"`
	ProfileImageUrl string `json:"profileImageUrl,omitempty"`
}

// Participant is one remote peer as seen through the relay.
type Participant struct {
	UserId          string      `json:"userId"`
	UserName        string      `json:"userName"`
	ProfileImageUrl string      `json:"profileImageUrl,omitempty"`
	IsMicOn         bool        `json:"isMicOn"`
	IsCameraOn      bool        `json:"isCameraOn"`
	IsSpeaking      bool        `json:"isSpeaking"`
	AudioTrack      TrackHandle `json:"-"`
	VideoTrack      TrackHandle `json:"-"`
}

// CurrentUserMedia mirrors the capture manager's state for display only.
type CurrentUserMedia struct {
	IsCameraOn bool `json:"isCameraOn"`
	IsMicOn    bool `json:"isMicOn"`
}

type Member struct {
	UserId          string `json:"userId" validate:"required"`
	UserName        string `json:"userName"`
	ProfileImageUrl string `json:"profileImageUrl,omitempty"`
	IsHost          bool   `json:"isHost"`
	IsMicOn         bool   `json:"isMicOn"`
	IsCameraOn      bool   `json:"isCameraOn"`
}

type AttendanceSnapshot struct {
	PresentMembers []Member `json:"presentMembers"`
	AbsentMembers  []Member `json:"absentMembers"`
}

type ScreenShareSession struct {
	OwnerId         string      `json:"ownerId"`
	OwnerName       string      `json:"ownerName"`
	ProfileImageUrl string      `json:"profileImageUrl,omitempty"`
	IsLocal         bool        `json:"isLocal"`
	VideoTrack      TrackHandle `json:"-"`
	AudioTrack      TrackHandle `json:"-"`
}

type TimerStatus string

const (
	TimerIdle    TimerStatus = "idle"
	TimerRunning TimerStatus = "running"
	TimerPaused  TimerStatus = "paused"
	TimerEnded   TimerStatus = "ended"
)

type TimerState struct {
	Status                 TimerStatus `json:"status"`
	DurationSeconds        int         `json:"durationSeconds"`
	RemainingSeconds       int         `json:"remainingSeconds"`
	RemainingSecondsSynced int         `json:"remainingSecondsSynced"`
	ServerStartTime        *time.Time  `json:"serverStartTime,omitempty"`
	LastSyncedAt           time.Time   `json:"lastSyncedAt"`
}

// RemainingAt derives the remaining seconds at now. RemainingSeconds is only
// a render cache; this is the value to trust.
func (t TimerState) RemainingAt(now time.Time) int {
	switch t.Status {
	case TimerEnded:
		return 0
	case TimerRunning:
		if t.ServerStartTime == nil {
			return clampZero(t.RemainingSecondsSynced)
		}
		elapsed := now.Sub(*t.ServerStartTime)
		if elapsed < 0 {
			elapsed = 0
		}
		return clampZero(t.RemainingSecondsSynced - int(elapsed/time.Second))
	default:
		return clampZero(t.RemainingSecondsSynced)
	}
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

type ChatOrigin string

const (
	// OriginRemote messages were delivered by the signaling server.
	OriginRemote ChatOrigin = "remote"
	// OriginLocal messages are private sends the server never echoes back.
	OriginLocal ChatOrigin = "local"
)

type ChatMessage struct {
	Id           string     `json:"id"`
	MeetId       string     `json:"meetId"`
	SenderId     string     `json:"senderId"`
	SenderName   string     `json:"senderName"`
	TargetUserId *string    `json:"targetUserId"`
	Content      string     `json:"content"`
	Timestamp    time.Time  `json:"timestamp"`
	Origin       ChatOrigin `json:"origin"`
}

func (m ChatMessage) IsPrivate() bool {
	return m.TargetUserId != nil && len(*m.TargetUserId) > 0
}

type SelectedSpeaker struct {
	UserId   string    `json:"userId"`
	PickedAt time.Time `json:"pickedAt"`
}

type ConnectionStatus string

const (
	ConnectionIdle         ConnectionStatus = "idle"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
	ConnectionClosed       ConnectionStatus = "closed"
)

type Connections struct {
	Relay     ConnectionStatus `json:"relay"`
	Signaling ConnectionStatus `json:"signaling"`
}

type Host struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
	IsSelf   bool   `json:"isSelf"`
}

// Slice names a part of the store that can be observed independently.
type Slice string

const (
	SliceParticipants Slice = "participants"
	SliceCurrentMedia Slice = "currentUserMedia"
	SliceScreenShare  Slice = "screenShare"
	SliceAttendance   Slice = "attendance"
	SliceHost         Slice = "host"
	SliceTimer        Slice = "timer"
	SliceChat         Slice = "chat"
	SliceInactive     Slice = "inactive"
	SliceSelected     Slice = "selectedSpeaker"
	SliceConnection   Slice = "connection"
)

var AllSlices = []Slice{
	SliceParticipants, SliceCurrentMedia, SliceScreenShare, SliceAttendance, SliceHost,
	SliceTimer, SliceChat, SliceInactive, SliceSelected, SliceConnection,
}
