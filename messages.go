package common

import (
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/Connect-Club/connectclub-meet-common/utils"
)

type ParticipantState struct {
	store.Participant
	AudioTrackId string `json:"audioTrackId,omitempty"`
	VideoTrackId string `json:"videoTrackId,omitempty"`
}

type ScreenShareState struct {
	Active bool `json:"active"`
	*store.ScreenShareSession
	VideoTrackId string `json:"videoTrackId,omitempty"`
	AudioTrackId string `json:"audioTrackId,omitempty"`
}

type TimerView struct {
	store.TimerState
	Remaining int `json:"remaining"`
}

type HostState struct {
	store.Host
	IsHost bool `json:"isHost"`
}

type ConnectionView struct {
	store.Connections
	Room string `json:"room"`
}

func trackId(t store.TrackHandle) string {
	if t == nil {
		return ""
	}
	return t.ID()
}

// Snapshot encodes the current value of one store slice for the renderer.
// Unknown slices yield nil.
func (r *MeetRoom) Snapshot(slice string) []byte {
	st := r.store
	switch store.Slice(slice) {
	case store.SliceParticipants:
		participants := st.Participants()
		states := make([]ParticipantState, 0, len(participants))
		for _, p := range participants {
			states = append(states, ParticipantState{
				Participant:  p,
				AudioTrackId: trackId(p.AudioTrack),
				VideoTrackId: trackId(p.VideoTrack),
			})
		}
		return utils.PackToByteArray(states)
	case store.SliceCurrentMedia:
		return utils.PackToByteArray(st.CurrentUserMedia())
	case store.SliceScreenShare:
		session, ok := st.ScreenShare()
		if !ok {
			return utils.PackToByteArray(ScreenShareState{})
		}
		return utils.PackToByteArray(ScreenShareState{
			Active:             true,
			ScreenShareSession: &session,
			VideoTrackId:       trackId(session.VideoTrack),
			AudioTrackId:       trackId(session.AudioTrack),
		})
	case store.SliceAttendance:
		return utils.PackToByteArray(st.Attendance())
	case store.SliceHost:
		return utils.PackToByteArray(HostState{Host: st.Host(), IsHost: st.IsHost()})
	case store.SliceTimer:
		return utils.PackToByteArray(TimerView{TimerState: st.Timer(), Remaining: r.timer.Remaining()})
	case store.SliceChat:
		return utils.PackToByteArray(st.Chat())
	case store.SliceInactive:
		return utils.PackToByteArray(st.InactiveUserIds())
	case store.SliceSelected:
		selected, ok := st.SelectedSpeaker()
		if !ok {
			return utils.PackToByteArray(nil)
		}
		return utils.PackToByteArray(selected)
	case store.SliceConnection:
		return utils.PackToByteArray(ConnectionView{Connections: st.Connections(), Room: r.State().String()})
	default:
		return nil
	}
}
