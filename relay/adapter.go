package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

var ErrCredentialExpired = errors.New("relay credential is expired")

type published struct {
	trackId string
	sid     string
}

// Adapter owns the relay session of one meeting. It publishes local tracks
// and folds every relay event into a full participant snapshot in the store.
type Adapter struct {
	relay  Relay
	issuer TokenIssuer
	store  *store.Store
	clock  clock.Clock
	url    string

	mu        sync.Mutex
	connected bool
	meetId    string
	desired   map[Source]webrtc.TrackLocal
	published map[Source]published
}

type AdapterOption func(*Adapter)

func WithClock(c clock.Clock) AdapterOption {
	return func(a *Adapter) {
		a.clock = c
	}
}

// WithUrl overrides the relay url returned with the credential.
func WithUrl(url string) AdapterOption {
	return func(a *Adapter) {
		a.url = url
	}
}

func NewAdapter(relay Relay, issuer TokenIssuer, st *store.Store, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		relay:     relay,
		issuer:    issuer,
		store:     st,
		clock:     clock.New(),
		desired:   map[Source]webrtc.TrackLocal{},
		published: map[Source]published{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect obtains a credential for meetId and joins the relay, then
// publishes local. Failures are connection notice errors; the caller
// decides whether to retry.
func (a *Adapter) Connect(ctx context.Context, meetId, displayName string, local map[Source]webrtc.TrackLocal) error {
	logger := log.WithField("meetId", meetId)
	a.store.SetRelayConnection(store.ConnectionConnecting)

	cred, err := a.issuer.IssueRelayToken(ctx, TokenRequest{
		MeetId:      meetId,
		UserId:      a.store.Self().UserId,
		DisplayName: displayName,
	})
	if err != nil {
		a.store.SetRelayConnection(store.ConnectionClosed)
		return notice.Wrap(notice.KindConnection, "relay connect", "cannot obtain relay credential: %w", err)
	}
	if err := a.checkCredential(cred.Token); err != nil {
		a.store.SetRelayConnection(store.ConnectionClosed)
		return notice.Wrap(notice.KindConnection, "relay connect", "%w", err)
	}
	url := cred.Url
	if len(a.url) > 0 {
		url = a.url
	}

	if err := a.relay.Connect(ctx, url, cred.Token, adapterEvents{a}); err != nil {
		a.store.SetRelayConnection(store.ConnectionClosed)
		return notice.Wrap(notice.KindConnection, "relay connect", "cannot join relay: %w", err)
	}
	logger.Info("relay connected")

	a.mu.Lock()
	a.connected = true
	a.meetId = meetId
	for source, track := range local {
		if track != nil {
			a.desired[source] = track
		}
	}
	for source, track := range a.desired {
		if err := a.publishLocked(source, track); err != nil {
			logger.WithError(err).WithField("source", source).Warn("cannot publish local track")
		}
	}
	a.mu.Unlock()

	a.store.SetRelayConnection(store.ConnectionConnected)
	for _, view := range a.relay.Participants() {
		a.refresh(view.Identity)
	}
	return nil
}

// checkCredential rejects tokens that are already expired. The signature is
// the relay's business; only the exp claim is read.
func (a *Adapter) checkCredential(token string) error {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return err
	}
	if claims.ExpiresAt != nil && !a.clock.Now().Before(claims.ExpiresAt.Time) {
		return ErrCredentialExpired
	}
	return nil
}

// Disconnect unpublishes every local track, leaves the relay and clears the
// relay-owned store state.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	wasConnected := a.connected
	for source, p := range a.published {
		if err := a.relay.Unpublish(p.sid); err != nil {
			log.WithError(err).WithField("source", source).Warn("cannot unpublish local track")
		}
	}
	a.published = map[Source]published{}
	a.desired = map[Source]webrtc.TrackLocal{}
	a.connected = false
	a.meetId = ""
	a.mu.Unlock()

	if wasConnected {
		a.relay.Disconnect()
	}
	a.store.ClearRelayState()
	a.store.SetRelayConnection(store.ConnectionClosed)
}

// PublishLocal publishes track as source. Publishing the track already
// published for source is a no-op; a different track replaces it. While
// disconnected the track is remembered and published on connect.
func (a *Adapter) PublishLocal(source Source, track webrtc.TrackLocal) error {
	if track == nil {
		return a.UnpublishLocal(source)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.desired[source] = track
	if !a.connected {
		return nil
	}
	return a.publishLocked(source, track)
}

func (a *Adapter) publishLocked(source Source, track webrtc.TrackLocal) error {
	if current, ok := a.published[source]; ok {
		if current.trackId == track.ID() {
			return nil
		}
		if err := a.relay.Unpublish(current.sid); err != nil {
			log.WithError(err).WithField("source", source).Warn("cannot unpublish replaced track")
		}
		delete(a.published, source)
	}
	sid, err := a.relay.Publish(track, source)
	if err != nil {
		return notice.Wrap(notice.KindConnection, "publish "+string(source), "%w", err)
	}
	a.published[source] = published{trackId: track.ID(), sid: sid}
	return nil
}

func (a *Adapter) UnpublishLocal(source Source) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.desired, source)
	current, ok := a.published[source]
	if !ok {
		return nil
	}
	delete(a.published, source)
	if err := a.relay.Unpublish(current.sid); err != nil {
		return notice.Wrap(notice.KindConnection, "unpublish "+string(source), "%w", err)
	}
	return nil
}

// PublishedTrackId returns the id of the track published for source.
func (a *Adapter) PublishedTrackId(source Source) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.published[source]
	return p.trackId, ok
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// refresh re-reads identity from the relay and upserts its full snapshot.
func (a *Adapter) refresh(identity string) {
	if len(identity) == 0 || identity == a.store.Self().UserId {
		return
	}
	view, ok := a.relay.Participant(identity)
	if !ok {
		a.remove(identity)
		return
	}
	prev, _ := a.store.Participant(identity)
	next := Derive(prev, view)
	a.store.UpsertParticipant(next)
	a.refreshScreenShare(next, view)
}

func (a *Adapter) refreshScreenShare(p store.Participant, view ParticipantView) {
	video, ok := view.Publication(SourceScreenShare)
	if !ok || video.Muted || video.Track == nil {
		a.store.ClearRemoteScreenShare(p.UserId)
		return
	}
	session := store.ScreenShareSession{
		OwnerId:         p.UserId,
		OwnerName:       p.UserName,
		ProfileImageUrl: p.ProfileImageUrl,
		VideoTrack:      video.Track,
	}
	if audio, ok := view.Publication(SourceScreenShareAudio); ok && !audio.Muted {
		session.AudioTrack = audio.Track
	}
	if current, active := a.store.ScreenShare(); active && !current.IsLocal && current.OwnerId == session.OwnerId &&
		sameTrack(current.VideoTrack, session.VideoTrack) && sameTrack(current.AudioTrack, session.AudioTrack) {
		return
	}
	if !a.store.AnnounceRemoteScreenShare(session) {
		log.WithField("ownerId", p.UserId).Warn("remote screen share ignored, local share is active")
	}
}

func sameTrack(a, b store.TrackHandle) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

func (a *Adapter) remove(identity string) {
	a.store.RemoveParticipant(identity)
	a.store.ClearRemoteScreenShare(identity)
}

type adapterEvents struct {
	a *Adapter
}

func (e adapterEvents) OnParticipantChanged(identity string) {
	e.a.refresh(identity)
}

func (e adapterEvents) OnParticipantLeft(identity string) {
	e.a.remove(identity)
}

func (e adapterEvents) OnActiveSpeakers(identities []string) {
	e.a.store.SetActiveSpeakers(lo.Uniq(identities))
}

func (e adapterEvents) OnReconnecting() {
	e.a.store.SetRelayConnection(store.ConnectionReconnecting)
}

func (e adapterEvents) OnReconnected() {
	e.a.store.SetRelayConnection(store.ConnectionConnected)
	for _, view := range e.a.relay.Participants() {
		e.a.refresh(view.Identity)
	}
}

// OnDisconnected is the relay's terminal disconnect after its own retries.
func (e adapterEvents) OnDisconnected() {
	e.a.mu.Lock()
	wasConnected := e.a.connected
	e.a.connected = false
	e.a.published = map[Source]published{}
	e.a.mu.Unlock()

	if wasConnected {
		log.Warn("relay disconnected")
	}
	e.a.store.ClearRelayState()
	e.a.store.SetRelayConnection(store.ConnectionClosed)
}
