// Package timer keeps the meeting countdown in sync with the signaling
// server. Remaining time is always derived from the last synced snapshot
// and the current clock, never counted down locally.
package timer

import (
	"context"
	"strconv"
	"time"

	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/signaling"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/Connect-Club/connectclub-meet-common/volatile"
	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

const DefaultTick = time.Second

// Publisher sends a request to the signaling server. It returns false when
// the request could not be sent.
type Publisher interface {
	Publish(destination string, body []byte) bool
}

// Command is one timer event from the signaling server.
type Command struct {
	Type            signaling.TimerCommandType
	Duration        *int
	ServerStartTime *time.Time
}

type Protocol struct {
	store     *store.Store
	publisher Publisher
	notices   notice.Sink
	clock     clock.Clock
	tick      time.Duration

	// watchdog guards the host-side automatic END to once per run.
	watchdog volatile.Flag
}

type Option func(*Protocol)

func WithClock(c clock.Clock) Option {
	return func(p *Protocol) {
		p.clock = c
	}
}

func WithTick(d time.Duration) Option {
	return func(p *Protocol) {
		p.tick = d
	}
}

func WithNotices(sink notice.Sink) Option {
	return func(p *Protocol) {
		p.notices = sink
	}
}

func New(st *store.Store, publisher Publisher, opts ...Option) *Protocol {
	p := &Protocol{
		store:     st,
		publisher: publisher,
		notices:   notice.Discard,
		clock:     clock.New(),
		tick:      DefaultTick,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Remaining is the derived remaining time in whole seconds.
func (p *Protocol) Remaining() int {
	return p.store.Timer().RemainingAt(p.clock.Now())
}

// Apply folds a server event into the timer state. Events arrive in topic
// order and the last one wins. Ended is terminal: START on an ended timer
// first resets it to idle, forgetting the previous run.
func (p *Protocol) Apply(cmd Command) {
	now := p.clock.Now()
	logger := log.WithField("type", cmd.Type)

	p.store.UpdateTimer(func(t store.TimerState) store.TimerState {
		switch cmd.Type {
		case signaling.TimerStart:
			if t.Status == store.TimerEnded {
				logger.Info("timer reset for a new run")
				t = store.TimerState{Status: store.TimerIdle}
			}
			duration := t.DurationSeconds
			if cmd.Duration != nil {
				duration = *cmd.Duration
			}
			p.watchdog.Lower()
			t = running(t, duration, startOf(cmd, now), now)
			t.DurationSeconds = duration

		case signaling.TimerResume:
			if t.Status != store.TimerPaused && t.Status != store.TimerRunning {
				logger.WithField("status", t.Status).Warn("resume ignored")
				return t
			}
			remaining := t.RemainingAt(now)
			if cmd.Duration != nil {
				remaining = *cmd.Duration
			}
			t = running(t, remaining, startOf(cmd, now), now)

		case signaling.TimerPause:
			if t.Status != store.TimerRunning && t.Status != store.TimerPaused {
				logger.WithField("status", t.Status).Warn("pause ignored")
				return t
			}
			remaining := t.RemainingAt(now)
			if cmd.Duration != nil {
				remaining = *cmd.Duration
			}
			t.Status = store.TimerPaused
			t.RemainingSecondsSynced = remaining
			t.RemainingSeconds = remaining
			t.ServerStartTime = nil
			t.LastSyncedAt = now

		case signaling.TimerEnd:
			if t.Status == store.TimerIdle || t.Status == store.TimerEnded {
				return t
			}
			t.Status = store.TimerEnded
			t.RemainingSecondsSynced = 0
			t.RemainingSeconds = 0
			t.ServerStartTime = nil
			t.LastSyncedAt = now

		default:
			logger.Warn("unknown timer command")
		}
		return t
	})
}

func startOf(cmd Command, now time.Time) time.Time {
	if cmd.ServerStartTime != nil {
		return *cmd.ServerStartTime
	}
	return now
}

func running(t store.TimerState, remaining int, start, now time.Time) store.TimerState {
	if remaining < 0 {
		remaining = 0
	}
	t.Status = store.TimerRunning
	t.RemainingSecondsSynced = remaining
	t.ServerStartTime = &start
	t.LastSyncedAt = now
	t.RemainingSeconds = t.RemainingAt(now)
	return t
}

// Reset returns the timer to idle, the only way out of ended.
func (p *Protocol) Reset() {
	p.watchdog.Lower()
	p.store.SetTimer(store.TimerState{Status: store.TimerIdle})
}

// Run refreshes the rendered remaining time every tick and, on the host,
// ends the run once it reaches zero. It returns when ctx is done.
func (p *Protocol) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick recomputes the render cache and fires the watchdog when due.
func (p *Protocol) Tick() {
	now := p.clock.Now()
	t := p.store.UpdateTimer(func(t store.TimerState) store.TimerState {
		t.RemainingSeconds = t.RemainingAt(now)
		return t
	})
	if t.Status != store.TimerRunning || t.RemainingSeconds > 0 || !p.store.IsHost() {
		return
	}
	if !p.watchdog.Raise() {
		return
	}
	log.WithField("meetId", p.store.MeetId()).Info("timer reached zero, ending")
	p.Apply(Command{Type: signaling.TimerEnd})
	p.publish(signaling.TimerActionEnd, nil)
}

func (p *Protocol) RequestStart(seconds int) error {
	if seconds <= 0 {
		err := notice.Wrap(notice.KindConflict, "timer start", "duration must be positive, got %d", seconds)
		p.notices.Notify(notice.FromError(err))
		return err
	}
	return p.request(signaling.TimerActionStart, []byte(strconv.Itoa(seconds)))
}

func (p *Protocol) RequestPause() error {
	return p.request(signaling.TimerActionPause, nil)
}

func (p *Protocol) RequestResume() error {
	return p.request(signaling.TimerActionResume, nil)
}

func (p *Protocol) RequestEnd() error {
	return p.request(signaling.TimerActionEnd, nil)
}

// request is host-only; a non-host is rejected before anything is sent.
func (p *Protocol) request(action signaling.TimerAction, body []byte) error {
	if !p.store.IsHost() {
		log.WithField("action", action).Info("timer request rejected, not host")
		p.notices.Notify(notice.FromError(notice.ErrNotHost))
		return notice.ErrNotHost
	}
	if !p.publish(action, body) {
		return notice.ErrNotConnected
	}
	return nil
}

func (p *Protocol) publish(action signaling.TimerAction, body []byte) bool {
	return p.publisher.Publish(signaling.TimerDestination(p.store.MeetId(), action), body)
}
