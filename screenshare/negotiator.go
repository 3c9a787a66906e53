// Package screenshare negotiates the meeting's single screen-share slot for
// the local user.
package screenshare

import (
	"context"
	"sync"

	"github.com/Connect-Club/connectclub-meet-common/capture"
	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/relay"
	"github.com/Connect-Club/connectclub-meet-common/store"
	log "github.com/sirupsen/logrus"
)

// Negotiator is the only writer of local screen-share sessions. The slot is
// claimed in the store before any device is touched, so concurrent starts
// from any number of negotiators sharing a store yield one owner.
type Negotiator struct {
	devices   capture.Devices
	publisher capture.Publisher
	store     *store.Store

	mu    sync.Mutex
	video capture.Track
	audio capture.Track
}

func NewNegotiator(devices capture.Devices, publisher capture.Publisher, st *store.Store) *Negotiator {
	return &Negotiator{
		devices:   devices,
		publisher: publisher,
		store:     st,
	}
}

// Start captures the display and publishes it. It fails with
// notice.ErrAlreadySharing while any session is active.
func (n *Negotiator) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.video != nil {
		return notice.ErrAlreadySharing
	}
	self := n.store.Self()
	if current, ok := n.store.ClaimScreenShare(store.ScreenShareSession{
		OwnerId:         self.UserId,
		OwnerName:       self.UserName,
		ProfileImageUrl: self.ProfileImageUrl,
	}); !ok {
		log.WithField("ownerId", current.OwnerId).Info("screen share slot is taken")
		return notice.ErrAlreadySharing
	}

	video, audio, err := n.devices.Display(ctx)
	if err != nil {
		n.store.ReleaseLocalScreenShare()
		if notice.KindOf(err) != notice.KindDevice {
			err = notice.Wrap(notice.KindDevice, "screen share", "cannot capture display: %w", err)
		}
		return err
	}

	if err := n.publisher.PublishLocal(relay.SourceScreenShare, video); err != nil {
		closeTrack(video)
		if audio != nil {
			closeTrack(audio)
		}
		n.store.ReleaseLocalScreenShare()
		return notice.Wrap(notice.KindConnection, "screen share", "cannot publish screen: %w", err)
	}
	if audio != nil {
		if err := n.publisher.PublishLocal(relay.SourceScreenShareAudio, audio); err != nil {
			log.WithError(err).Warn("screen share continues without audio")
			closeTrack(audio)
			audio = nil
		}
	}

	n.video, n.audio = video, audio
	var audioHandle store.TrackHandle
	if audio != nil {
		audioHandle = audio
	}
	n.store.AttachScreenShareTracks(self.UserId, video, audioHandle)
	video.OnEnded(func(err error) {
		log.WithError(err).Info("screen capture ended")
		n.stopTrack(video)
	})
	return nil
}

// Stop ends the local share. It never clears a remote owner's session.
func (n *Negotiator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
}

func (n *Negotiator) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.video != nil
}

func (n *Negotiator) stopTrack(video capture.Track) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.video != video {
		return
	}
	n.stopLocked()
}

func (n *Negotiator) stopLocked() {
	if n.video == nil {
		return
	}
	if err := n.publisher.UnpublishLocal(relay.SourceScreenShare); err != nil {
		log.WithError(err).Warn("cannot unpublish screen")
	}
	closeTrack(n.video)
	if n.audio != nil {
		if err := n.publisher.UnpublishLocal(relay.SourceScreenShareAudio); err != nil {
			log.WithError(err).Warn("cannot unpublish screen audio")
		}
		closeTrack(n.audio)
	}
	n.video, n.audio = nil, nil
	n.store.ReleaseLocalScreenShare()
}

func closeTrack(track capture.Track) {
	if err := track.Close(); err != nil {
		log.WithError(err).Debug("close track")
	}
}
