package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Connect-Club/connectclub-meet-common/relay"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	*webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	closed  bool
	onEnded func(error)
}

func newFakeTrack(t *testing.T, id string, mime string) *fakeTrack {
	t.Helper()
	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	require.NoError(t, err)
	return &fakeTrack{TrackLocalStaticSample: sample}
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTrack) OnEnded(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = handler
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// end simulates the device dropping the track.
func (t *fakeTrack) end(err error) {
	t.mu.Lock()
	handler := t.onEnded
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

type fakeDevices struct {
	t          *testing.T
	mu         sync.Mutex
	counter    int
	cameraErr  error
	micErr     error
	displayErr error
	withAudio  bool
	acquired   []*fakeTrack
}

func (d *fakeDevices) next(kind, mime string) *fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counter++
	track := newFakeTrack(d.t, fmt.Sprintf("%s-%d", kind, d.counter), mime)
	d.acquired = append(d.acquired, track)
	return track
}

func (d *fakeDevices) Camera(context.Context) (Track, error) {
	if d.cameraErr != nil {
		return nil, d.cameraErr
	}
	return d.next("camera", webrtc.MimeTypeVP8), nil
}

func (d *fakeDevices) Microphone(context.Context) (Track, error) {
	if d.micErr != nil {
		return nil, d.micErr
	}
	return d.next("mic", webrtc.MimeTypeOpus), nil
}

func (d *fakeDevices) Display(context.Context) (Track, Track, error) {
	if d.displayErr != nil {
		return nil, nil, d.displayErr
	}
	video := d.next("screen", webrtc.MimeTypeVP8)
	if !d.withAudio {
		return video, nil, nil
	}
	return video, d.next("screen-audio", webrtc.MimeTypeOpus), nil
}

type fakePublisher struct {
	mu         sync.Mutex
	published  map[relay.Source]webrtc.TrackLocal
	publishErr map[relay.Source]error
	calls      int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[relay.Source]webrtc.TrackLocal{}, publishErr: map[relay.Source]error{}}
}

func (p *fakePublisher) PublishLocal(source relay.Source, track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.publishErr[source]; err != nil {
		return err
	}
	p.published[source] = track
	return nil
}

func (p *fakePublisher) UnpublishLocal(source relay.Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.published, source)
	return nil
}

func (p *fakePublisher) track(source relay.Source) webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[source]
}

var errDenied = errors.New("permission denied")
