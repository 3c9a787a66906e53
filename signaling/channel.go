package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jvbuster "github.com/Connect-Club/connectclub-jvbuster-client"
	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/volatile"
	log "github.com/sirupsen/logrus"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	return [...]string{
		"Idle",
		"Connecting",
		"Connected",
		"Closed",
	}[s]
}

const (
	DefaultReconnectDelay = 2 * time.Second

	stopTimeout = 10 * time.Second
	inboxSize   = 128
)

var ErrAlreadyActive = errors.New("signaling channel is already active")

// Message is an inbound frame routed to the handler of its topic.
type Message struct {
	Topic     Topic
	MessageId string
	Body      []byte
}

// Handler translates one message into store mutations. Handlers run on the
// channel's single dispatch goroutine and must not call Deactivate.
type Handler func(msg Message)

type Handlers map[Topic]Handler

// Channel keeps one authenticated session open for the active meeting and
// routes every inbound frame to its topic handler. It holds no meeting state.
type Channel struct {
	dialer         Dialer
	reconnectDelay time.Duration
	notices        notice.Sink
	onState        func(State)

	state *volatile.Value[State]

	mu          sync.Mutex
	writeMu     sync.Mutex
	meetId      string
	session     Session
	subs        []Subscription
	generation  uint64
	connectTask *jvbuster.Task
	inbox       chan Message
	routing     context.Context
	stopRouting context.CancelFunc
	routingDone chan struct{}
}

type Option func(*Channel)

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.reconnectDelay = d
	}
}

func WithNotices(sink notice.Sink) Option {
	return func(c *Channel) {
		c.notices = sink
	}
}

// WithStateListener registers fn for state transitions. It is called
// synchronously and must not block.
func WithStateListener(fn func(State)) Option {
	return func(c *Channel) {
		c.onState = fn
	}
}

func NewChannel(dialer Dialer, opts ...Option) *Channel {
	c := &Channel{
		dialer:         dialer,
		reconnectDelay: DefaultReconnectDelay,
		notices:        notice.Discard,
		state:          volatile.NewValue(StateIdle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) State() State {
	return c.state.Load()
}

func (c *Channel) MeetId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meetId
}

func (c *Channel) setState(s State) {
	if c.state.Swap(s) == s {
		return
	}
	if c.onState != nil {
		c.onState(s)
	}
}

// Activate connects in the background and subscribes to every topic of
// meetId. Topics without a handler are subscribed and dropped.
func (c *Channel) Activate(meetId string, handlers Handlers) error {
	c.mu.Lock()
	if c.connectTask != nil {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.meetId = meetId
	c.inbox = make(chan Message, inboxSize)
	c.routing, c.stopRouting = ctx, cancel
	c.routingDone = make(chan struct{})
	c.connectTask = jvbuster.CreateTask(c.connect, 0, false)
	inbox, done, task := c.inbox, c.routingDone, c.connectTask
	c.mu.Unlock()

	go c.route(ctx, inbox, done, handlers)
	task.Run()
	return nil
}

// Deactivate unsubscribes every topic, closes the session and stops routing.
// No handler runs after it returns.
func (c *Channel) Deactivate() {
	log.Info("⤵")
	defer log.Info("⤴")

	c.mu.Lock()
	task, stopRouting, done := c.connectTask, c.stopRouting, c.routingDone
	c.connectTask, c.stopRouting, c.routingDone = nil, nil, nil
	c.mu.Unlock()
	if task == nil {
		return
	}

	if err := task.Stop(stopTimeout); err != nil {
		log.WithError(err).Error("cannot stop connectTask")
	}
	c.teardown()
	stopRouting()
	<-done

	c.mu.Lock()
	c.meetId = ""
	c.mu.Unlock()
	c.setState(StateClosed)
}

// teardown drops the current session. Bumping the generation retires every
// reader of it, so their errors do not trigger another reconnect.
func (c *Channel) teardown() {
	c.mu.Lock()
	session, subs := c.session, c.subs
	c.session, c.subs = nil, nil
	c.generation++
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.WithError(err).Debug("unsubscribe")
		}
	}
	if session != nil {
		if err := session.Close(); err != nil {
			log.WithError(err).Debug("close session")
		}
	}
}

func (c *Channel) connect(ctx context.Context) {
	log.Info("connect begin")
	defer log.Info("connect end")

	c.setState(StateConnecting)
	c.teardown()

	c.mu.Lock()
	meetId, inbox, routing := c.meetId, c.inbox, c.routing
	c.mu.Unlock()

	notified := false
	for firstCycle := true; ; firstCycle = false {
		if !firstCycle {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
		}

		session, err := c.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("cannot dial signaling")
			if !notified {
				notified = true
				c.notices.Notify(notice.FromError(notice.Wrap(notice.KindConnection, "signaling", "connection lost, retrying: %w", err)))
			}
			continue
		}

		subs, err := subscribeAll(session, meetId)
		if err != nil {
			log.WithError(err).Warn("cannot subscribe")
			_ = session.Close()
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			for _, sub := range subs {
				_ = sub.Unsubscribe()
			}
			_ = session.Close()
			return
		}
		c.session, c.subs = session, subs
		c.generation++
		generation := c.generation
		c.mu.Unlock()

		for i, sub := range subs {
			go c.read(ctx, routing.Done(), generation, AllTopics[i], sub, inbox)
		}
		break
	}

	log.WithField("meetId", meetId).Info("signaling ready")
	c.setState(StateConnected)
}

func subscribeAll(session Session, meetId string) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(AllTopics))
	for _, topic := range AllTopics {
		sub, err := session.Subscribe(topic.Destination(meetId))
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("cannot subscribe to %v: %w", topic, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *Channel) read(ctx context.Context, quit <-chan struct{}, generation uint64, topic Topic, sub Subscription, inbox chan<- Message) {
	for {
		frame, err := sub.Next()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).WithField("topic", topic).Info("subscription broken, trying to reconnect")
				c.reconnect(generation)
			}
			return
		}
		select {
		case inbox <- Message{Topic: topic, MessageId: frame.MessageId, Body: frame.Body}:
		case <-ctx.Done():
			return
		case <-quit:
			return
		}
	}
}

// reconnect restarts the connect task once per broken session.
func (c *Channel) reconnect(generation uint64) {
	c.mu.Lock()
	if c.generation != generation || c.connectTask == nil {
		c.mu.Unlock()
		return
	}
	c.generation++
	task := c.connectTask
	c.mu.Unlock()

	c.setState(StateConnecting)
	task.Run()
}

func (c *Channel) route(ctx context.Context, inbox <-chan Message, done chan<- struct{}, handlers Handlers) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbox:
			if handler, ok := handlers[msg.Topic]; ok {
				c.handle(handler, msg)
			}
		}
	}
}

func (c *Channel) handle(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("topic", msg.Topic).Errorf("handler panic: %v, body = %s", r, msg.Body)
		}
	}()
	handler(msg)
}

// Publish sends body to destination. It never blocks on reconnection: when
// the session is not open it raises a connection notice and returns false.
func (c *Channel) Publish(destination string, body []byte) bool {
	c.mu.Lock()
	session, generation := c.session, c.generation
	c.mu.Unlock()

	if c.state.Load() != StateConnected || session == nil {
		log.WithField("destination", destination).Warn("publish while not connected")
		c.notices.Notify(notice.FromError(notice.ErrNotConnected))
		return false
	}

	c.writeMu.Lock()
	err := session.Send(destination, body)
	c.writeMu.Unlock()
	if err != nil {
		log.WithError(err).WithField("destination", destination).Warn("cannot publish, trying to reconnect")
		c.notices.Notify(notice.FromError(notice.Wrap(notice.KindConnection, "publish", "message was not sent: %w", err)))
		c.reconnect(generation)
		return false
	}
	return true
}

// PublishJSON encodes v and publishes it.
func (c *Channel) PublishJSON(destination string, v interface{}) bool {
	body, err := Encode(v)
	if err != nil {
		log.WithError(err).WithField("destination", destination).Error("cannot encode body")
		return false
	}
	return c.Publish(destination, body)
}
