package signaling

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validate = validator.New()

// Timestamp accepts epoch milliseconds or an ISO-8601 string. Strings
// without a zone are read in ZonelessLocation.
type Timestamp struct {
	time.Time
}

// ZonelessLocation is the zone assumed for timestamps that carry none.
var ZonelessLocation = time.Local

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(string(data), 64)
			if ferr != nil {
				return fmt.Errorf("timestamp %s: %w", data, err)
			}
			ms = int64(f)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, ZonelessLocation); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp %q: unknown layout", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

const StatusTypeSelectedSpeaker = "SELECTED_SPEAKER"

type StatusPayload struct {
	Type            string         `json:"type"`
	IsHostUser      *bool          `json:"isHostUser"`
	PresentMembers  []store.Member `json:"presentMembers" validate:"omitempty,dive"`
	AbsentMembers   []store.Member `json:"absentMembers" validate:"omitempty,dive"`
	InactiveUserIds []string       `json:"inactiveUserIds"`
	UserId          string         `json:"userId" validate:"required_if=Type SELECTED_SPEAKER"`
}

// HasAttendance reports whether the push carries an attendance snapshot.
func (p *StatusPayload) HasAttendance() bool {
	return p.PresentMembers != nil || p.AbsentMembers != nil
}

type HostPayload struct {
	NewHostId       string `json:"newHostId" validate:"required"`
	NewHostNickname string `json:"newHostNickname"`
}

type RandomPickPayload struct {
	UserId   string    `json:"userId" validate:"required"`
	PickedAt Timestamp `json:"pickedAt"`
}

type SilentPayload struct {
	SilentUserIds []string   `json:"silentUserIds" validate:"required"`
	ThresholdSec  *int       `json:"thresholdSec"`
	SnapshotAt    *Timestamp `json:"snapshotAt"`
}

type ChatPayload struct {
	MeetId       string    `json:"meetId"`
	SenderId     string    `json:"senderId" validate:"required"`
	SenderName   string    `json:"senderName"`
	TargetUserId *string   `json:"targetUserId"`
	Content      string    `json:"content"`
	Timestamp    Timestamp `json:"timestamp"`
}

type TimerCommandType string

const (
	TimerStart  TimerCommandType = "START"
	TimerPause  TimerCommandType = "PAUSE"
	TimerResume TimerCommandType = "RESUME"
	TimerEnd    TimerCommandType = "END"
)

type TimerPayload struct {
	Type            TimerCommandType `json:"type" validate:"required,oneof=START PAUSE RESUME END"`
	Duration        *int             `json:"duration" validate:"omitempty,min=0"`
	ServerStartTime *Timestamp       `json:"serverStartTime"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type ChatRequest struct {
	SenderName   string  `json:"senderName"`
	TargetUserId *string `json:"targetUserId"`
	Content      string  `json:"content"`
}

type SpeakingRequest struct {
	UserId   string `json:"userId"`
	Speaking bool   `json:"speaking"`
}

// Decode parses body into v and validates it. Any failure is a parse
// notice error; callers log it and drop the message.
func Decode(topic Topic, body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return notice.Wrap(notice.KindParse, topic.String(), "cannot unmarshal %q: %w", body, err)
	}
	if err := validate.Struct(v); err != nil {
		return notice.Wrap(notice.KindParse, topic.String(), "invalid payload %q: %w", body, err)
	}
	return nil
}

// Encode marshals an outbound body.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
