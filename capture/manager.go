// Package capture owns the local camera and microphone.
package capture

import (
	"context"
	"sync"

	"github.com/Connect-Club/connectclub-meet-common/relay"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
)

// Publisher puts local tracks on the relay.
type Publisher interface {
	PublishLocal(source relay.Source, track webrtc.TrackLocal) error
	UnpublishLocal(source relay.Source) error
}

type State struct {
	IsCameraOn bool
	IsMicOn    bool
}

// Manager combines independently acquired camera and microphone tracks into
// one logical local stream. Turning a device on always acquires a fresh
// track; turning it off closes the track.
type Manager struct {
	devices   Devices
	publisher Publisher
	store     *store.Store
	meter     *AudioMeter

	mu     sync.Mutex
	camera Track
	mic    Track
}

func NewManager(devices Devices, publisher Publisher, st *store.Store, meter *AudioMeter) *Manager {
	return &Manager{
		devices:   devices,
		publisher: publisher,
		store:     st,
		meter:     meter,
	}
}

// StartStream brings both devices to the requested state.
func (m *Manager) StartStream(ctx context.Context, camera, mic bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.mirrorLocked()

	var firstErr error
	if err := m.setMicLocked(ctx, mic); err != nil {
		firstErr = err
	}
	if err := m.setCameraLocked(ctx, camera); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// StopStream closes every device track unconditionally.
func (m *Manager) StopStream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.mirrorLocked()

	m.releaseCameraLocked()
	m.releaseMicLocked()
}

func (m *Manager) ToggleCamera(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.mirrorLocked()
	return m.setCameraLocked(ctx, m.camera == nil)
}

func (m *Manager) ToggleMic(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.mirrorLocked()
	return m.setMicLocked(ctx, m.mic == nil)
}

func (m *Manager) SetCamera(ctx context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.mirrorLocked()
	return m.setCameraLocked(ctx, on)
}

func (m *Manager) SetMic(ctx context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.mirrorLocked()
	return m.setMicLocked(ctx, on)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Tracks returns the live tracks keyed by relay source.
func (m *Manager) Tracks() map[relay.Source]webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracks := map[relay.Source]webrtc.TrackLocal{}
	if m.camera != nil {
		tracks[relay.SourceCamera] = m.camera
	}
	if m.mic != nil {
		tracks[relay.SourceMicrophone] = m.mic
	}
	return tracks
}

func (m *Manager) Microphone() Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic
}

func (m *Manager) stateLocked() State {
	return State{IsCameraOn: m.camera != nil, IsMicOn: m.mic != nil}
}

func (m *Manager) mirrorLocked() {
	s := m.stateLocked()
	m.store.SetCurrentUserMedia(store.CurrentUserMedia{IsCameraOn: s.IsCameraOn, IsMicOn: s.IsMicOn})
}

func (m *Manager) setCameraLocked(ctx context.Context, on bool) error {
	if on == (m.camera != nil) {
		return nil
	}
	if !on {
		m.releaseCameraLocked()
		return nil
	}
	track, err := m.acquire(ctx, relay.SourceCamera, m.devices.Camera)
	if err != nil {
		return err
	}
	m.camera = track
	track.OnEnded(func(err error) {
		m.ended(relay.SourceCamera, track, err)
	})
	return nil
}

func (m *Manager) setMicLocked(ctx context.Context, on bool) error {
	if on == (m.mic != nil) {
		return nil
	}
	if !on {
		m.releaseMicLocked()
		return nil
	}
	track, err := m.acquire(ctx, relay.SourceMicrophone, m.devices.Microphone)
	if err != nil {
		return err
	}
	m.mic = track
	if m.meter != nil {
		m.meter.Attach(track)
	}
	track.OnEnded(func(err error) {
		m.ended(relay.SourceMicrophone, track, err)
	})
	return nil
}

// acquire opens a device and publishes it. Any failure leaves the device
// off.
func (m *Manager) acquire(ctx context.Context, source relay.Source, open func(context.Context) (Track, error)) (Track, error) {
	track, err := open(ctx)
	if err != nil {
		log.WithError(err).WithField("source", source).Warn("cannot acquire device")
		return nil, err
	}
	if err := m.publisher.PublishLocal(source, track); err != nil {
		log.WithError(err).WithField("source", source).Warn("cannot publish device track")
		closeTrack(track)
		return nil, err
	}
	return track, nil
}

func (m *Manager) releaseCameraLocked() {
	if m.camera == nil {
		return
	}
	if err := m.publisher.UnpublishLocal(relay.SourceCamera); err != nil {
		log.WithError(err).Warn("cannot unpublish camera")
	}
	closeTrack(m.camera)
	m.camera = nil
}

func (m *Manager) releaseMicLocked() {
	if m.mic == nil {
		return
	}
	if m.meter != nil {
		m.meter.Detach()
	}
	if err := m.publisher.UnpublishLocal(relay.SourceMicrophone); err != nil {
		log.WithError(err).Warn("cannot unpublish microphone")
	}
	closeTrack(m.mic)
	m.mic = nil
}

// ended handles a device dropping track on its own.
func (m *Manager) ended(source relay.Source, track Track, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case source == relay.SourceCamera && m.camera == track:
		log.WithError(err).Info("camera ended")
		m.releaseCameraLocked()
	case source == relay.SourceMicrophone && m.mic == track:
		log.WithError(err).Info("microphone ended")
		m.releaseMicLocked()
	default:
		return
	}
	m.mirrorLocked()
}

func closeTrack(track Track) {
	if err := track.Close(); err != nil {
		log.WithError(err).Debug("close track")
	}
}
