package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle string

func (h handle) ID() string { return string(h) }

type publishCall struct {
	source  Source
	trackId string
	sid     string
}

type fakeRelay struct {
	mu          sync.Mutex
	url, token  string
	connectErr  error
	events      Events
	views       map[string]ParticipantView
	publishes   []publishCall
	unpublished []string
	nextSid     int
	disconnects int
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{views: map[string]ParticipantView{}}
}

func (r *fakeRelay) Connect(_ context.Context, url, token string, events Events) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.url, r.token, r.events = url, token, events
	return nil
}

func (r *fakeRelay) Disconnect() {
	r.mu.Lock()
	r.disconnects++
	events := r.events
	r.mu.Unlock()
	if events != nil {
		events.OnDisconnected()
	}
}

func (r *fakeRelay) Participant(identity string) (ParticipantView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[identity]
	return v, ok
}

func (r *fakeRelay) Participants() []ParticipantView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ParticipantView, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, v)
	}
	return out
}

func (r *fakeRelay) Publish(track webrtc.TrackLocal, source Source) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSid++
	sid := fmt.Sprintf("TR_%d", r.nextSid)
	r.publishes = append(r.publishes, publishCall{source: source, trackId: track.ID(), sid: sid})
	return sid, nil
}

func (r *fakeRelay) Unpublish(sid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unpublished = append(r.unpublished, sid)
	return nil
}

// set replaces the view of identity and fires a change event, the way the
// relay reports one publication change at a time.
func (r *fakeRelay) set(view ParticipantView) {
	r.mu.Lock()
	r.views[view.Identity] = view
	events := r.events
	r.mu.Unlock()
	events.OnParticipantChanged(view.Identity)
}

func (r *fakeRelay) leave(identity string) {
	r.mu.Lock()
	delete(r.views, identity)
	events := r.events
	r.mu.Unlock()
	events.OnParticipantLeft(identity)
}

func localTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "local")
	require.NoError(t, err)
	return track
}

func devIssuer() TokenIssuer {
	return &DevTokenIssuer{Url: "wss://relay.example", ApiKey: "key", ApiSecret: "a-long-enough-development-secret-value"}
}

func connected(t *testing.T, local map[Source]webrtc.TrackLocal) (*Adapter, *fakeRelay, *store.Store) {
	t.Helper()
	st := store.New()
	st.Begin("42", store.Identity{UserId: "1", UserName: "me"})
	relay := newFakeRelay()
	a := NewAdapter(relay, devIssuer(), st)
	require.NoError(t, a.Connect(context.Background(), "42", "me", local))
	return a, relay, st
}

func TestConnectUsesIssuedCredential(t *testing.T) {
	mic := localTrack(t, "mic-1")
	a, relay, st := connected(t, map[Source]webrtc.TrackLocal{SourceMicrophone: mic})

	assert.Equal(t, "wss://relay.example", relay.url)
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(relay.token, claims)
	require.NoError(t, err)
	assert.Equal(t, "1", claims["sub"])
	assert.Equal(t, store.ConnectionConnected, st.Connections().Relay)
	assert.True(t, a.IsConnected())

	require.Len(t, relay.publishes, 1)
	assert.Equal(t, SourceMicrophone, relay.publishes[0].source)
	id, ok := a.PublishedTrackId(SourceMicrophone)
	assert.True(t, ok)
	assert.Equal(t, "mic-1", id)
}

func TestConnectFailuresAreConnectionErrors(t *testing.T) {
	st := store.New()
	st.Begin("42", store.Identity{UserId: "1"})

	failing := TokenIssuerFunc(func(context.Context, TokenRequest) (Credential, error) {
		return Credential{}, errors.New("503")
	})
	err := NewAdapter(newFakeRelay(), failing, st).Connect(context.Background(), "42", "me", nil)
	require.Error(t, err)
	assert.Equal(t, notice.KindConnection, notice.KindOf(err))
	assert.Equal(t, store.ConnectionClosed, st.Connections().Relay)

	relay := newFakeRelay()
	relay.connectErr = errors.New("ice failed")
	err = NewAdapter(relay, devIssuer(), st).Connect(context.Background(), "42", "me", nil)
	assert.Equal(t, notice.KindConnection, notice.KindOf(err))
}

func TestConnectRejectsExpiredCredential(t *testing.T) {
	st := store.New()
	st.Begin("42", store.Identity{UserId: "1"})
	expired := TokenIssuerFunc(func(context.Context, TokenRequest) (Credential, error) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}).SignedString([]byte("secret"))
		return Credential{Url: "wss://relay.example", Token: token}, err
	})
	relay := newFakeRelay()

	err := NewAdapter(relay, expired, st).Connect(context.Background(), "42", "me", nil)
	assert.ErrorIs(t, err, ErrCredentialExpired)
	assert.Equal(t, notice.KindConnection, notice.KindOf(err))
	assert.Nil(t, relay.events, "relay never dialed")
}

func TestDeriveMuteRules(t *testing.T) {
	prev := store.Participant{UserId: "7", IsMicOn: true, AudioTrack: handle("a1")}

	muted := Derive(prev, ParticipantView{Identity: "7", Publications: []PublicationView{
		{Source: SourceMicrophone, Muted: true, Track: handle("a1")},
	}})
	assert.False(t, muted.IsMicOn, "muted is off even with a live track")

	noTrack := Derive(prev, ParticipantView{Identity: "7", Publications: []PublicationView{
		{Source: SourceMicrophone},
	}})
	assert.True(t, noTrack.IsMicOn, "no live track is no new information")
	assert.Equal(t, "a1", noTrack.AudioTrack.ID())

	gone := Derive(prev, ParticipantView{Identity: "7"})
	assert.False(t, gone.IsMicOn)
	assert.Nil(t, gone.AudioTrack)

	live := Derive(store.Participant{}, ParticipantView{Identity: "7", Name: "ann", Publications: []PublicationView{
		{Source: SourceCamera, Track: handle("v1")},
	}})
	assert.True(t, live.IsCameraOn)
	assert.False(t, live.IsMicOn)
	assert.Equal(t, "ann", live.UserName)
}

func TestMuteSequencesReflectLatestEventPerKind(t *testing.T) {
	_, relay, st := connected(t, nil)

	type event struct {
		source Source
		muted  bool
	}
	sequences := [][]event{
		{{SourceMicrophone, true}, {SourceCamera, false}, {SourceMicrophone, false}},
		{{SourceCamera, true}, {SourceMicrophone, false}, {SourceCamera, false}, {SourceCamera, true}},
		{{SourceMicrophone, false}, {SourceMicrophone, true}, {SourceCamera, false}},
		{{SourceCamera, false}, {SourceMicrophone, true}, {SourceMicrophone, true}},
	}
	for i, seq := range sequences {
		identity := fmt.Sprintf("p%d", i)
		state := map[Source]bool{SourceMicrophone: true, SourceCamera: true}
		for _, ev := range seq {
			state[ev.source] = ev.muted
			relay.set(ParticipantView{Identity: identity, Publications: []PublicationView{
				{Source: SourceMicrophone, Muted: state[SourceMicrophone], Track: handle(identity + "-a")},
				{Source: SourceCamera, Muted: state[SourceCamera], Track: handle(identity + "-v")},
			}})

			p, ok := st.Participant(identity)
			require.True(t, ok)
			assert.Equal(t, !state[SourceMicrophone], p.IsMicOn, "seq %d mic", i)
			assert.Equal(t, !state[SourceCamera], p.IsCameraOn, "seq %d camera", i)
		}
	}
}

func TestParticipantLeftIsRemoved(t *testing.T) {
	_, relay, st := connected(t, nil)
	relay.set(ParticipantView{Identity: "7", Name: "ann"})
	relay.leave("7")

	_, ok := st.Participant("7")
	assert.False(t, ok)
}

func TestSelfEventsIgnored(t *testing.T) {
	_, relay, st := connected(t, nil)
	relay.set(ParticipantView{Identity: "1"})
	assert.Empty(t, st.Participants())
}

func TestPublishLocalIsIdempotentByTrackId(t *testing.T) {
	a, relay, _ := connected(t, nil)
	camera := localTrack(t, "cam-1")

	require.NoError(t, a.PublishLocal(SourceCamera, camera))
	require.NoError(t, a.PublishLocal(SourceCamera, localTrack(t, "cam-1")))
	assert.Len(t, relay.publishes, 1)
	assert.Empty(t, relay.unpublished)

	require.NoError(t, a.PublishLocal(SourceCamera, localTrack(t, "cam-2")))
	require.Len(t, relay.publishes, 2)
	assert.Equal(t, []string{relay.publishes[0].sid}, relay.unpublished)

	require.NoError(t, a.UnpublishLocal(SourceCamera))
	require.NoError(t, a.UnpublishLocal(SourceCamera))
	assert.Len(t, relay.unpublished, 2)
	_, ok := a.PublishedTrackId(SourceCamera)
	assert.False(t, ok)
}

func TestPublishBeforeConnectIsDeferred(t *testing.T) {
	st := store.New()
	st.Begin("42", store.Identity{UserId: "1"})
	relay := newFakeRelay()
	a := NewAdapter(relay, devIssuer(), st)

	require.NoError(t, a.PublishLocal(SourceCamera, localTrack(t, "cam-1")))
	assert.Empty(t, relay.publishes)

	require.NoError(t, a.Connect(context.Background(), "42", "me", nil))
	require.Len(t, relay.publishes, 1)
	assert.Equal(t, "cam-1", relay.publishes[0].trackId)
}

func TestRemoteScreenShareSurfaced(t *testing.T) {
	_, relay, st := connected(t, nil)

	relay.set(ParticipantView{Identity: "7", Name: "ann", Publications: []PublicationView{
		{Source: SourceScreenShare, Track: handle("screen-v")},
		{Source: SourceScreenShareAudio, Track: handle("screen-a")},
	}})
	session, active := st.ScreenShare()
	require.True(t, active)
	assert.Equal(t, "7", session.OwnerId)
	assert.Equal(t, "ann", session.OwnerName)
	assert.False(t, session.IsLocal)
	assert.Equal(t, "screen-a", session.AudioTrack.ID())

	relay.set(ParticipantView{Identity: "7", Name: "ann"})
	_, active = st.ScreenShare()
	assert.False(t, active)
}

func TestTerminalDisconnectClearsRelayState(t *testing.T) {
	_, relay, st := connected(t, nil)
	relay.set(ParticipantView{Identity: "7", Publications: []PublicationView{
		{Source: SourceScreenShare, Track: handle("screen-v")},
	}})
	st.AddChatMessage(store.ChatMessage{Id: "local-1", Content: "psst", Origin: store.OriginLocal})

	relay.events.OnDisconnected()

	assert.Empty(t, st.Participants())
	_, active := st.ScreenShare()
	assert.False(t, active)
	assert.Len(t, st.Chat(), 1)
	assert.Equal(t, store.ConnectionClosed, st.Connections().Relay)
}

func TestDisconnectUnpublishesBeforeLeaving(t *testing.T) {
	a, relay, st := connected(t, map[Source]webrtc.TrackLocal{SourceMicrophone: localTrack(t, "mic-1")})
	relay.set(ParticipantView{Identity: "7"})

	a.Disconnect()

	assert.Len(t, relay.unpublished, 1)
	assert.Equal(t, 1, relay.disconnects)
	assert.False(t, a.IsConnected())
	assert.Empty(t, st.Participants())
}

func TestActiveSpeakersOverlay(t *testing.T) {
	_, relay, st := connected(t, nil)
	relay.set(ParticipantView{Identity: "7"})
	st.ReplaceInactive([]string{"7"})

	relay.events.OnActiveSpeakers([]string{"7", "7"})

	p, _ := st.Participant("7")
	assert.True(t, p.IsSpeaking)
	assert.False(t, st.IsInactive("7"))
}
