package store

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrack string

func (t fakeTrack) ID() string { return string(t) }

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s := New(WithClock(mock), WithRecentSpeakingWindow(2*time.Second))
	s.Begin("42", Identity{UserId: "1", UserName: "me"})
	return s, mock
}

func TestUpsertParticipantUpdatesInPlace(t *testing.T) {
	s, _ := newTestStore(t)

	s.UpsertParticipant(Participant{UserId: "7", UserName: "ann", IsMicOn: true, AudioTrack: fakeTrack("a1")})
	s.SetActiveSpeakers([]string{"7"})
	s.UpsertParticipant(Participant{UserId: "7", IsMicOn: false, IsCameraOn: true, VideoTrack: fakeTrack("v1")})

	p, ok := s.Participant("7")
	require.True(t, ok)
	assert.Equal(t, "ann", p.UserName, "name kept when update carries none")
	assert.False(t, p.IsMicOn)
	assert.True(t, p.IsCameraOn)
	assert.Nil(t, p.AudioTrack)
	assert.Equal(t, "v1", p.VideoTrack.ID())
	assert.True(t, p.IsSpeaking, "speaking flag is owned by SetActiveSpeakers")
	assert.Len(t, s.Participants(), 1)
}

func TestParticipantsKeepFirstSeenOrder(t *testing.T) {
	s, _ := newTestStore(t)
	for _, id := range []string{"3", "2", "5"} {
		s.UpsertParticipant(Participant{UserId: id})
	}
	s.RemoveParticipant("2")
	s.UpsertParticipant(Participant{UserId: "2"})

	ids := lo.Map(s.Participants(), func(p Participant, _ int) string { return p.UserId })
	assert.Equal(t, []string{"3", "5", "2"}, ids)
}

func TestClaimScreenShareSingleOwner(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok := s.ClaimScreenShare(ScreenShareSession{OwnerId: "1"})
	require.True(t, ok)
	current, ok := s.ClaimScreenShare(ScreenShareSession{OwnerId: "1"})
	assert.False(t, ok)
	assert.True(t, current.IsLocal)

	assert.False(t, s.AnnounceRemoteScreenShare(ScreenShareSession{OwnerId: "9"}), "remote must not override local")
	assert.False(t, s.ClearRemoteScreenShare("1"))

	assert.True(t, s.ReleaseLocalScreenShare())
	_, active := s.ScreenShare()
	assert.False(t, active)
}

func TestRemoteScreenShareNotClearedByLocalRelease(t *testing.T) {
	s, _ := newTestStore(t)

	require.True(t, s.AnnounceRemoteScreenShare(ScreenShareSession{OwnerId: "9", OwnerName: "bob"}))
	assert.False(t, s.ReleaseLocalScreenShare())
	_, ok := s.ClaimScreenShare(ScreenShareSession{OwnerId: "1"})
	assert.False(t, ok)

	session, active := s.ScreenShare()
	require.True(t, active)
	assert.Equal(t, "9", session.OwnerId)
	assert.False(t, session.IsLocal)
	assert.True(t, s.ClearRemoteScreenShare("9"))
}

func TestAttendanceOverlaysLiveMediaFlags(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetHost("7", "ann")
	s.UpsertParticipant(Participant{UserId: "7", IsMicOn: true, IsCameraOn: false})
	s.SetCurrentUserMedia(CurrentUserMedia{IsCameraOn: true})

	s.SetAttendance(AttendanceSnapshot{
		PresentMembers: []Member{
			{UserId: "1", IsMicOn: true},
			{UserId: "7", IsCameraOn: true},
			{UserId: "8", IsMicOn: true, IsCameraOn: true},
		},
		AbsentMembers: []Member{{UserId: "9"}},
	})

	a := s.Attendance()
	require.Len(t, a.PresentMembers, 3)
	assert.Equal(t, Member{UserId: "1", IsCameraOn: true}, a.PresentMembers[0])
	assert.Equal(t, Member{UserId: "7", IsHost: true, IsMicOn: true}, a.PresentMembers[1])
	assert.Equal(t, Member{UserId: "8"}, a.PresentMembers[2])
	assert.Len(t, a.AbsentMembers, 1)

	s.SetAttendance(AttendanceSnapshot{PresentMembers: []Member{{UserId: "7"}}})
	a = s.Attendance()
	assert.Len(t, a.PresentMembers, 1, "snapshot replaced wholesale")
	assert.Empty(t, a.AbsentMembers)
}

func TestChatDedupByIdAndLocalEchoKept(t *testing.T) {
	s, _ := newTestStore(t)
	target := "7"
	local := ChatMessage{Id: "local-1", SenderId: "1", TargetUserId: &target, Content: "psst", Origin: OriginLocal}

	assert.True(t, s.AddChatMessage(local))
	assert.False(t, s.AddChatMessage(local))
	assert.True(t, s.AddChatMessage(ChatMessage{Id: "m-1", SenderId: "7", Content: "hi", Origin: OriginRemote}))
	assert.False(t, s.AddChatMessage(ChatMessage{Content: "no id"}))

	chat := s.Chat()
	require.Len(t, chat, 2)
	assert.Equal(t, "local-1", chat[0].Id)
	assert.True(t, chat[0].IsPrivate())
}

func TestSilenceSnapshotThenLocalSpeaking(t *testing.T) {
	s, _ := newTestStore(t)

	s.ReplaceInactive([]string{"7"})
	require.True(t, s.IsInactive("7"))
	s.MarkSpeaking("7", true)

	assert.False(t, s.IsInactive("7"))
	assert.Empty(t, s.InactiveUserIds())
}

func TestStaleSnapshotCannotReaddRecentSpeaker(t *testing.T) {
	s, mock := newTestStore(t)

	s.MarkSpeaking("7", true)
	s.ReplaceInactive([]string{"7", "8"})
	assert.Equal(t, []string{"8"}, s.InactiveUserIds())

	s.MarkSpeaking("7", false)
	mock.Add(time.Second)
	s.ReplaceInactive([]string{"7", "8"})
	assert.Equal(t, []string{"8"}, s.InactiveUserIds(), "just spoke")

	mock.Add(2 * time.Second)
	s.ReplaceInactive([]string{"7", "8"})
	assert.Equal(t, []string{"7", "8"}, s.InactiveUserIds(), "snapshot authoritative after the window")
}

func TestLocalSpeakerShieldedFromRelayUpdates(t *testing.T) {
	s, mock := newTestStore(t)

	s.MarkSpeaking("1", true)
	s.SetActiveSpeakers([]string{"7"})
	mock.Add(3 * time.Second)
	s.ReplaceInactive([]string{"1", "8"})
	assert.Equal(t, []string{"8"}, s.InactiveUserIds(), "relay list without self")

	s.ClearRelayState()
	mock.Add(3 * time.Second)
	s.ReplaceInactive([]string{"1", "8"})
	assert.Equal(t, []string{"8"}, s.InactiveUserIds(), "relay state cleared")

	s.MarkSpeaking("1", false)
	mock.Add(3 * time.Second)
	s.ReplaceInactive([]string{"1", "8"})
	assert.Equal(t, []string{"1", "8"}, s.InactiveUserIds())
}

func TestSilentFlagNeverAddsToInactive(t *testing.T) {
	s, _ := newTestStore(t)
	s.MarkSpeaking("7", false)
	assert.Empty(t, s.InactiveUserIds())
}

func TestActiveSpeakersRemoveFromInactive(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpsertParticipant(Participant{UserId: "7"})
	s.ReplaceInactive([]string{"7"})

	s.SetActiveSpeakers([]string{"7"})
	assert.False(t, s.IsInactive("7"))
	p, _ := s.Participant("7")
	assert.True(t, p.IsSpeaking)

	s.SetActiveSpeakers(nil)
	p, _ = s.Participant("7")
	assert.False(t, p.IsSpeaking)
}

func TestHostFlagOnlyWithoutConfirmedHost(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetHostFlag(true)
	assert.True(t, s.IsHost())

	s.SetHost("7", "ann")
	assert.False(t, s.IsHost())
	assert.Equal(t, "ann", s.Host().UserName)

	s.SetHostFlag(true)
	assert.False(t, s.IsHost(), "confirmed host wins over the hint")

	s.SetHost("1", "me")
	assert.True(t, s.IsHost())
}

func TestClearRelayStateKeepsChatAndLocalShare(t *testing.T) {
	s, _ := newTestStore(t)
	s.UpsertParticipant(Participant{UserId: "7"})
	s.SetHost("7", "ann")
	s.AddChatMessage(ChatMessage{Id: "m-1", Content: "hi"})
	s.AnnounceRemoteScreenShare(ScreenShareSession{OwnerId: "7"})

	s.ClearRelayState()

	assert.Empty(t, s.Participants())
	_, active := s.ScreenShare()
	assert.False(t, active)
	assert.Empty(t, s.Host().UserId)
	assert.Len(t, s.Chat(), 1)

	_, ok := s.ClaimScreenShare(ScreenShareSession{OwnerId: "1"})
	require.True(t, ok)
	s.ClearRelayState()
	_, active = s.ScreenShare()
	assert.True(t, active, "local share survives relay loss")
}

func TestResetClearsEverything(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddChatMessage(ChatMessage{Id: "m-1"})
	s.SetTimer(TimerState{Status: TimerRunning, RemainingSecondsSynced: 10})
	s.Reset()

	assert.Empty(t, s.Chat())
	assert.Equal(t, TimerIdle, s.Timer().Status)
	assert.Empty(t, s.MeetId())
}

func TestSubscribeNotifiesOnlyTouchedSlices(t *testing.T) {
	s, _ := newTestStore(t)
	var chatCalls, timerCalls int
	unsubscribe := s.Subscribe(SliceChat, func() { chatCalls++ })
	s.Subscribe(SliceTimer, func() { timerCalls++ })

	s.AddChatMessage(ChatMessage{Id: "m-1"})
	s.AddChatMessage(ChatMessage{Id: "m-1"})
	assert.Equal(t, 1, chatCalls)
	assert.Equal(t, 0, timerCalls)

	unsubscribe()
	s.AddChatMessage(ChatMessage{Id: "m-2"})
	assert.Equal(t, 1, chatCalls)
}

func TestTimerRemainingAt(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	running := TimerState{Status: TimerRunning, RemainingSecondsSynced: 90, ServerStartTime: &start}

	assert.Equal(t, 90, running.RemainingAt(start.Add(-5*time.Second)), "future start clamps elapsed")
	assert.Equal(t, 60, running.RemainingAt(start.Add(30*time.Second)))
	assert.Equal(t, 0, running.RemainingAt(start.Add(5*time.Minute)))

	paused := TimerState{Status: TimerPaused, RemainingSecondsSynced: 42}
	assert.Equal(t, 42, paused.RemainingAt(start.Add(time.Hour)))

	ended := TimerState{Status: TimerEnded, RemainingSecondsSynced: 42}
	assert.Equal(t, 0, ended.RemainingAt(start))
}

func TestUpdateTimerNotifiesOnChangeOnly(t *testing.T) {
	s, _ := newTestStore(t)
	calls := 0
	s.Subscribe(SliceTimer, func() { calls++ })

	s.UpdateTimer(func(st TimerState) TimerState { return st })
	assert.Equal(t, 0, calls)
	s.UpdateTimer(func(st TimerState) TimerState {
		st.RemainingSeconds = 5
		return st
	})
	assert.Equal(t, 1, calls)
}
