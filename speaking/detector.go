// Package speaking turns local microphone energy into a speaking signal
// shared with the signaling server.
package speaking

import (
	"context"
	"sync"
	"time"

	"github.com/Connect-Club/connectclub-meet-common/signaling"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// Meter reports the current microphone level in [0, 1].
type Meter interface {
	Level() float64
}

type Publisher interface {
	Publish(destination string, body []byte) bool
}

type Config struct {
	Threshold      float64
	SampleInterval time.Duration
	// Hangover is how long the level may stay below Threshold before the
	// user counts as silent.
	Hangover time.Duration
	// KeepAlive is the re-publish interval while speaking.
	KeepAlive time.Duration
}

var DefaultConfig = Config{
	Threshold:      0.02,
	SampleInterval: 100 * time.Millisecond,
	Hangover:       800 * time.Millisecond,
	KeepAlive:      8 * time.Second,
}

type Detector struct {
	store     *store.Store
	publisher Publisher
	meter     Meter
	clock     clock.Clock
	cfg       Config

	mu              sync.Mutex
	speaking        bool
	lastAbove       time.Time
	publishedActive bool
	lastPublishAt   time.Time
}

func New(st *store.Store, publisher Publisher, meter Meter, cfg Config, c clock.Clock) *Detector {
	if c == nil {
		c = clock.New()
	}
	return &Detector{
		store:     st,
		publisher: publisher,
		meter:     meter,
		clock:     c,
		cfg:       cfg,
	}
}

func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Run samples the meter until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := d.clock.Ticker(d.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.reset()
			return
		case <-ticker.C:
			d.Observe(d.meter.Level())
		}
	}
}

func (d *Detector) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.publishedActive = false
	d.lastAbove = time.Time{}
	d.lastPublishAt = time.Time{}
}

// Observe feeds one level sample.
func (d *Detector) Observe(level float64) {
	now := d.clock.Now()
	self := d.store.Self().UserId

	d.mu.Lock()
	defer d.mu.Unlock()

	if level >= d.cfg.Threshold {
		d.lastAbove = now
		if !d.speaking {
			d.speaking = true
			d.store.MarkSpeaking(self, true)
			d.publishLocked(self, true, now)
			return
		}
	} else if d.speaking && now.Sub(d.lastAbove) >= d.cfg.Hangover {
		d.speaking = false
		d.store.MarkSpeaking(self, false)
		if d.publishedActive {
			d.publishLocked(self, false, now)
		}
		return
	}

	if d.speaking && now.Sub(d.lastPublishAt) >= d.cfg.KeepAlive {
		d.publishLocked(self, true, now)
	}
}

func (d *Detector) publishLocked(self string, speaking bool, now time.Time) {
	d.lastPublishAt = now
	body, err := signaling.Encode(signaling.SpeakingRequest{UserId: self, Speaking: speaking})
	if err != nil {
		log.WithError(err).Error("cannot encode speaking state")
		return
	}
	if !d.publisher.Publish(signaling.SpeakingDestination(d.store.MeetId()), body) {
		log.WithField("speaking", speaking).Debug("speaking state not sent")
		return
	}
	d.publishedActive = speaking
}
