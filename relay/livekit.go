package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

var ErrNotJoined = errors.New("relay room is not joined")

// LiveKit is a Relay backed by a LiveKit room.
type LiveKit struct {
	mu   sync.RWMutex
	room *lksdk.Room
}

func NewLiveKit() *LiveKit {
	return &LiveKit{}
}

func (l *LiveKit) Connect(ctx context.Context, url, token string, events Events) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	changed := func(identity string) {
		events.OnParticipantChanged(identity)
	}
	callback := &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			changed(rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			events.OnParticipantLeft(rp.Identity())
		},
		OnActiveSpeakersChanged: func(speakers []lksdk.Participant) {
			events.OnActiveSpeakers(lo.Map(speakers, func(p lksdk.Participant, _ int) string {
				return p.Identity()
			}))
		},
		OnReconnecting: events.OnReconnecting,
		OnReconnected:  events.OnReconnected,
		OnDisconnected: func() {
			l.mu.Lock()
			l.room = nil
			l.mu.Unlock()
			events.OnDisconnected()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackMuted: func(_ lksdk.TrackPublication, p lksdk.Participant) {
				changed(p.Identity())
			},
			OnTrackUnmuted: func(_ lksdk.TrackPublication, p lksdk.Participant) {
				changed(p.Identity())
			},
			OnTrackSubscribed: func(_ *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed(rp.Identity())
			},
			OnTrackUnsubscribed: func(_ *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed(rp.Identity())
			},
			OnTrackPublished: func(_ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed(rp.Identity())
			},
			OnTrackUnpublished: func(_ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				changed(rp.Identity())
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, callback, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.room = room
	l.mu.Unlock()
	log.WithField("room", room.Name()).Info("livekit room joined")
	return nil
}

func (l *LiveKit) Disconnect() {
	l.mu.Lock()
	room := l.room
	l.room = nil
	l.mu.Unlock()
	if room != nil {
		room.Disconnect()
	}
}

func (l *LiveKit) currentRoom() *lksdk.Room {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.room
}

func (l *LiveKit) Participant(identity string) (ParticipantView, bool) {
	room := l.currentRoom()
	if room == nil {
		return ParticipantView{}, false
	}
	rp := room.GetParticipantByIdentity(identity)
	if rp == nil {
		return ParticipantView{}, false
	}
	return viewOf(rp), true
}

func (l *LiveKit) Participants() []ParticipantView {
	room := l.currentRoom()
	if room == nil {
		return nil
	}
	return lo.Map(room.GetRemoteParticipants(), func(rp *lksdk.RemoteParticipant, _ int) ParticipantView {
		return viewOf(rp)
	})
}

func viewOf(rp *lksdk.RemoteParticipant) ParticipantView {
	view := ParticipantView{Identity: rp.Identity(), Name: rp.Name()}
	for _, pub := range rp.TrackPublications() {
		pv := PublicationView{
			Sid:    pub.SID(),
			Source: sourceFromProto(pub.Source()),
			Muted:  pub.IsMuted(),
		}
		if remote, ok := pub.(*lksdk.RemoteTrackPublication); ok {
			if track := remote.TrackRemote(); track != nil {
				pv.Track = store.TrackHandle(track)
			}
		}
		view.Publications = append(view.Publications, pv)
	}
	return view
}

func (l *LiveKit) Publish(track webrtc.TrackLocal, source Source) (string, error) {
	room := l.currentRoom()
	if room == nil {
		return "", ErrNotJoined
	}
	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   string(source),
		Source: sourceToProto(source),
	})
	if err != nil {
		return "", err
	}
	return pub.SID(), nil
}

func (l *LiveKit) Unpublish(sid string) error {
	room := l.currentRoom()
	if room == nil {
		return ErrNotJoined
	}
	return room.LocalParticipant.UnpublishTrack(sid)
}

func sourceFromProto(s livekit.TrackSource) Source {
	switch s {
	case livekit.TrackSource_CAMERA:
		return SourceCamera
	case livekit.TrackSource_MICROPHONE:
		return SourceMicrophone
	case livekit.TrackSource_SCREEN_SHARE:
		return SourceScreenShare
	case livekit.TrackSource_SCREEN_SHARE_AUDIO:
		return SourceScreenShareAudio
	default:
		return SourceUnknown
	}
}

func sourceToProto(s Source) livekit.TrackSource {
	switch s {
	case SourceCamera:
		return livekit.TrackSource_CAMERA
	case SourceMicrophone:
		return livekit.TrackSource_MICROPHONE
	case SourceScreenShare:
		return livekit.TrackSource_SCREEN_SHARE
	case SourceScreenShareAudio:
		return livekit.TrackSource_SCREEN_SHARE_AUDIO
	default:
		return livekit.TrackSource_UNKNOWN
	}
}
