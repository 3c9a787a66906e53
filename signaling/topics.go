package signaling

import "fmt"

// Topic is one inbound subscription of an active meeting.
type Topic int

const (
	TopicStatus Topic = iota
	TopicHost
	TopicRandomPick
	TopicSilent
	TopicPublicChat
	TopicTimer
	QueueChat
	QueueErrors
)

// AllTopics is the fixed subscription set, in subscription order.
var AllTopics = []Topic{
	TopicStatus, TopicHost, TopicRandomPick, TopicSilent, TopicPublicChat, TopicTimer, QueueChat, QueueErrors,
}

func (t Topic) String() string {
	return [...]string{
		"status",
		"host",
		"random-pick",
		"silent",
		"chat/public",
		"timer",
		"queue/chat",
		"queue/errors",
	}[t]
}

// Destination resolves the STOMP destination of t for meetId. Private
// queues are per-user and do not depend on the meeting.
func (t Topic) Destination(meetId string) string {
	switch t {
	case QueueChat:
		return "/user/queue/chat"
	case QueueErrors:
		return "/user/queue/errors"
	default:
		return fmt.Sprintf("/topic/meet/%s/%s", meetId, t)
	}
}

type TimerAction string

const (
	TimerActionStart  TimerAction = "start"
	TimerActionPause  TimerAction = "pause"
	TimerActionResume TimerAction = "resume"
	TimerActionEnd    TimerAction = "end"
)

func ChatDestination(meetId string) string {
	return fmt.Sprintf("/app/meet/%s/chat", meetId)
}

func SpeakingDestination(meetId string) string {
	return fmt.Sprintf("/app/meet/%s/speaking", meetId)
}

func RandomPickDestination(meetId string) string {
	return fmt.Sprintf("/app/meet/%s/random-pick", meetId)
}

func TimerDestination(meetId string, action TimerAction) string {
	return fmt.Sprintf("/app/meet/%s/timer/%s", meetId, action)
}
