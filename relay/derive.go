package relay

import "github.com/Connect-Club/connectclub-meet-common/store"

// Derive computes the full participant entry from the previous one and the
// relay's current view. Each device kind is resolved independently:
//   - no publication: off
//   - muted publication: off, whether or not a track object exists
//   - unmuted publication without a live track: previous flag and handle kept
//   - unmuted publication with a live track: on
func Derive(prev store.Participant, view ParticipantView) store.Participant {
	next := prev
	next.UserId = view.Identity
	if len(view.Name) > 0 {
		next.UserName = view.Name
	}

	mic, hasMic := view.Publication(SourceMicrophone)
	next.IsMicOn, next.AudioTrack = resolve(prev.IsMicOn, prev.AudioTrack, mic, hasMic)

	camera, hasCamera := view.Publication(SourceCamera)
	next.IsCameraOn, next.VideoTrack = resolve(prev.IsCameraOn, prev.VideoTrack, camera, hasCamera)

	return next
}

func resolve(prevOn bool, prevTrack store.TrackHandle, pub PublicationView, published bool) (bool, store.TrackHandle) {
	switch {
	case !published:
		return false, nil
	case pub.Muted:
		return false, pub.Track
	case pub.Track == nil:
		return prevOn, prevTrack
	default:
		return true, pub.Track
	}
}
