package common

import (
	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/signaling"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/Connect-Club/connectclub-meet-common/timer"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type MeetDelegate interface {
	OnStateChanged(newState int)
	OnSliceChanged(slice string)
	OnNotice(kind string, message string)
	OnDeparted(outcome string)
}

// BaseRoom translates signaling messages into store mutations. It holds no
// state of its own.
type BaseRoom struct {
	store    *store.Store
	timer    *timer.Protocol
	delegate MeetDelegate
	clock    clock.Clock
}

func (r *BaseRoom) Notify(n notice.Notice) {
	r.delegate.OnNotice(string(n.Kind), n.Message)
}

func (r *BaseRoom) notifyError(err error) {
	if err == nil {
		return
	}
	r.Notify(notice.FromError(err))
}

func (r *BaseRoom) handlers() signaling.Handlers {
	return signaling.Handlers{
		signaling.TopicStatus:     r.processStatus,
		signaling.TopicHost:       r.processHost,
		signaling.TopicRandomPick: r.processRandomPick,
		signaling.TopicSilent:     r.processSilent,
		signaling.TopicPublicChat: r.processChat,
		signaling.QueueChat:       r.processChat,
		signaling.TopicTimer:      r.processTimer,
		signaling.QueueErrors:     r.processError,
	}
}

// decode drops malformed payloads after logging them.
func decode(msg signaling.Message, v interface{}) bool {
	if err := signaling.Decode(msg.Topic, msg.Body, v); err != nil {
		log.WithError(err).WithField("topic", msg.Topic.String()).Warn("dropping message")
		return false
	}
	return true
}

func (r *BaseRoom) processStatus(msg signaling.Message) {
	var payload signaling.StatusPayload
	if !decode(msg, &payload) {
		return
	}
	if payload.Type == signaling.StatusTypeSelectedSpeaker {
		r.store.SetSelectedSpeaker(payload.UserId, r.clock.Now())
		return
	}
	if payload.IsHostUser != nil {
		r.store.SetHostFlag(*payload.IsHostUser)
	}
	if payload.HasAttendance() {
		r.store.SetAttendance(store.AttendanceSnapshot{
			PresentMembers: payload.PresentMembers,
			AbsentMembers:  payload.AbsentMembers,
		})
	}
	if payload.InactiveUserIds != nil {
		r.store.ReplaceInactive(payload.InactiveUserIds)
	}
}

func (r *BaseRoom) processHost(msg signaling.Message) {
	var payload signaling.HostPayload
	if !decode(msg, &payload) {
		return
	}
	log.WithField("hostId", payload.NewHostId).Info("host changed")
	r.store.SetHost(payload.NewHostId, payload.NewHostNickname)
}

func (r *BaseRoom) processRandomPick(msg signaling.Message) {
	var payload signaling.RandomPickPayload
	if !decode(msg, &payload) {
		return
	}
	pickedAt := payload.PickedAt.Time
	if pickedAt.IsZero() {
		pickedAt = r.clock.Now()
	}
	r.store.SetSelectedSpeaker(payload.UserId, pickedAt)
}

func (r *BaseRoom) processSilent(msg signaling.Message) {
	var payload signaling.SilentPayload
	if !decode(msg, &payload) {
		return
	}
	r.store.ReplaceInactive(payload.SilentUserIds)
}

// processChat stores public and private chat. The transport message id
// identifies remote messages; frames without one get a local id.
func (r *BaseRoom) processChat(msg signaling.Message) {
	var payload signaling.ChatPayload
	if !decode(msg, &payload) {
		return
	}
	id := msg.MessageId
	if len(id) == 0 {
		id = uuid.NewString()
	}
	timestamp := payload.Timestamp.Time
	if timestamp.IsZero() {
		timestamp = r.clock.Now()
	}
	meetId := payload.MeetId
	if len(meetId) == 0 {
		meetId = r.store.MeetId()
	}
	r.store.AddChatMessage(store.ChatMessage{
		Id:           id,
		MeetId:       meetId,
		SenderId:     payload.SenderId,
		SenderName:   payload.SenderName,
		TargetUserId: payload.TargetUserId,
		Content:      payload.Content,
		Timestamp:    timestamp,
		Origin:       store.OriginRemote,
	})
}

func (r *BaseRoom) processTimer(msg signaling.Message) {
	var payload signaling.TimerPayload
	if !decode(msg, &payload) {
		return
	}
	cmd := timer.Command{Type: payload.Type, Duration: payload.Duration}
	if payload.ServerStartTime != nil && !payload.ServerStartTime.IsZero() {
		start := payload.ServerStartTime.Time
		cmd.ServerStartTime = &start
	}
	r.timer.Apply(cmd)
}

func (r *BaseRoom) processError(msg signaling.Message) {
	var payload signaling.ErrorPayload
	if !decode(msg, &payload) {
		return
	}
	log.WithField("message", payload.Message).Warn("server reported an error")
	message := payload.Message
	if len(message) == 0 {
		message = "server error"
	}
	r.Notify(notice.Notice{Kind: notice.KindServer, Message: message})
}
