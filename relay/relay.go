// Package relay adapts a media relay session to the meeting store.
package relay

import (
	"context"

	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/pion/webrtc/v4"
)

// Source identifies what a published track carries.
type Source string

const (
	SourceCamera           Source = "camera"
	SourceMicrophone       Source = "microphone"
	SourceScreenShare      Source = "screen_share"
	SourceScreenShareAudio Source = "screen_share_audio"
	SourceUnknown          Source = "unknown"
)

// PublicationView is the relay's current view of one remote publication.
// Track is nil while the publication is not subscribed or not yet live.
type PublicationView struct {
	Sid    string
	Source Source
	Muted  bool
	Track  store.TrackHandle
}

type ParticipantView struct {
	Identity     string
	Name         string
	Publications []PublicationView
}

func (v ParticipantView) Publication(source Source) (PublicationView, bool) {
	for _, p := range v.Publications {
		if p.Source == source {
			return p, true
		}
	}
	return PublicationView{}, false
}

// Events receives relay notifications. Every participant-level event is
// reduced to "this identity changed"; the receiver re-reads the full view.
type Events interface {
	OnParticipantChanged(identity string)
	OnParticipantLeft(identity string)
	OnActiveSpeakers(identities []string)
	OnReconnecting()
	OnReconnected()
	OnDisconnected()
}

// Relay is one media relay session.
type Relay interface {
	Connect(ctx context.Context, url, token string, events Events) error
	Disconnect()
	Participant(identity string) (ParticipantView, bool)
	Participants() []ParticipantView
	Publish(track webrtc.TrackLocal, source Source) (sid string, err error)
	Unpublish(sid string) error
}

// Credential is a short-lived relay access token and the relay to use it on.
type Credential struct {
	Url   string `json:"url"`
	Token string `json:"token"`
}

type TokenRequest struct {
	MeetId      string
	UserId      string
	DisplayName string
}

type TokenIssuer interface {
	IssueRelayToken(ctx context.Context, req TokenRequest) (Credential, error)
}

type TokenIssuerFunc func(ctx context.Context, req TokenRequest) (Credential, error)

func (f TokenIssuerFunc) IssueRelayToken(ctx context.Context, req TokenRequest) (Credential, error) {
	return f(ctx, req)
}
