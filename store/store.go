// Package store is the single source of truth a meeting renderer reads.
//
// Every write goes through a named mutator; each mutator documents its merge
// rule (replace-wholesale, overlay, upsert or remove-only). Listeners are
// invoked after the lock is released, once per affected slice.
package store

import (
	"sort"
	"sync"
	"time"

	jvbuster "github.com/Connect-Club/connectclub-jvbuster-client"
	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

const DefaultRecentSpeakingWindow = 3 * time.Second

type Store struct {
	mu sync.RWMutex

	clock        clock.Clock
	recentWindow time.Duration

	meetId string
	self   Identity

	participants map[string]*Participant
	order        []string
	media        CurrentUserMedia
	screenShare  *ScreenShareSession
	attendance   AttendanceSnapshot
	host         Host
	hostFlag     *bool
	timer        TimerState
	chat         []ChatMessage
	chatIds      jvbuster.StringSet
	inactive     jvbuster.StringSet
	lastSpoke    map[string]time.Time
	selected     *SelectedSpeaker
	connections  Connections

	// relaySpeaking follows the relay's active speaker list, localSpeaking
	// the detector. Only MarkSpeaking clears localSpeaking.
	relaySpeaking jvbuster.StringSet
	localSpeaking jvbuster.StringSet

	listenersMu  sync.Mutex
	listeners    map[Slice]map[int]func()
	nextListener int
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithRecentSpeakingWindow sets how long after a speaking observation an id
// is still shielded from server silence snapshots.
func WithRecentSpeakingWindow(d time.Duration) Option {
	return func(s *Store) {
		s.recentWindow = d
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:        clock.New(),
		recentWindow: DefaultRecentSpeakingWindow,
		listeners:    map[Slice]map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.meetId = ""
	s.self = Identity{}
	s.participants = map[string]*Participant{}
	s.order = nil
	s.media = CurrentUserMedia{}
	s.screenShare = nil
	s.attendance = AttendanceSnapshot{}
	s.host = Host{}
	s.hostFlag = nil
	s.timer = TimerState{Status: TimerIdle}
	s.chat = nil
	s.chatIds = jvbuster.StringSet{}
	s.inactive = jvbuster.StringSet{}
	s.relaySpeaking = jvbuster.StringSet{}
	s.localSpeaking = jvbuster.StringSet{}
	s.lastSpoke = map[string]time.Time{}
	s.selected = nil
	s.connections = Connections{Relay: ConnectionIdle, Signaling: ConnectionIdle}
}

// Subscribe registers fn for changes of slice. The returned func removes it.
func (s *Store) Subscribe(slice Slice, fn func()) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListener
	s.nextListener++
	if s.listeners[slice] == nil {
		s.listeners[slice] = map[int]func(){}
	}
	s.listeners[slice][id] = fn

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners[slice], id)
	}
}

func (s *Store) notify(slices ...Slice) {
	var fns []func()
	s.listenersMu.Lock()
	for _, slice := range lo.Uniq(slices) {
		for _, fn := range s.listeners[slice] {
			fns = append(fns, fn)
		}
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Begin scopes the store to one meeting session. Replace-wholesale: all state
// from a previous session is dropped.
func (s *Store) Begin(meetId string, self Identity) {
	s.mu.Lock()
	s.resetLocked()
	s.meetId = meetId
	s.self = self
	s.mu.Unlock()

	s.notify(AllSlices...)
}

// Reset clears everything, chat included. Called on leave/unmount after the
// relay and signaling channel are already torn down.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()

	s.notify(AllSlices...)
}

func (s *Store) MeetId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meetId
}

func (s *Store) Self() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// ---- participants

// UpsertParticipant merges a full relay-derived snapshot into the entry for
// p.UserId, creating it on first sight. The existing entry is updated in
// place: media flags and track handles are replaced, name and avatar only
// when the update carries them, IsSpeaking is owned by SetActiveSpeakers.
func (s *Store) UpsertParticipant(p Participant) {
	if len(p.UserId) == 0 {
		return
	}
	s.mu.Lock()
	existing, ok := s.participants[p.UserId]
	if !ok {
		cp := p
		s.participants[p.UserId] = &cp
		s.order = append(s.order, p.UserId)
	} else {
		if len(p.UserName) > 0 {
			existing.UserName = p.UserName
		}
		if len(p.ProfileImageUrl) > 0 {
			existing.ProfileImageUrl = p.ProfileImageUrl
		}
		existing.IsMicOn = p.IsMicOn
		existing.IsCameraOn = p.IsCameraOn
		existing.AudioTrack = p.AudioTrack
		existing.VideoTrack = p.VideoTrack
	}
	s.mu.Unlock()

	s.notify(SliceParticipants, SliceAttendance)
}

func (s *Store) RemoveParticipant(userId string) {
	s.mu.Lock()
	_, ok := s.participants[userId]
	if ok {
		delete(s.participants, userId)
		s.order = lo.Without(s.order, userId)
	}
	s.mu.Unlock()

	if ok {
		s.notify(SliceParticipants, SliceAttendance)
	}
}

// Participant returns a copy of one entry.
func (s *Store) Participant(userId string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[userId]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants returns copies in first-seen order.
func (s *Store) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.participants[id])
	}
	return out
}

// SetActiveSpeakers overlays IsSpeaking from the relay's active speaker list.
// Every id in the list also counts as an observed speaker for the inactive
// set; ids dropped from the list are recorded as "just spoke".
func (s *Store) SetActiveSpeakers(userIds []string) {
	active := jvbuster.NewStringSetFromSlice(userIds)
	now := s.clock.Now()

	s.mu.Lock()
	for _, p := range s.participants {
		p.IsSpeaking = active.Contains(p.UserId)
	}
	for id := range s.relaySpeaking {
		if !active.Contains(id) {
			delete(s.relaySpeaking, id)
			s.lastSpoke[id] = now
		}
	}
	inactiveChanged := false
	for _, id := range userIds {
		s.relaySpeaking.Add(id)
		s.lastSpoke[id] = now
		if s.inactive.Contains(id) {
			delete(s.inactive, id)
			inactiveChanged = true
		}
	}
	s.mu.Unlock()

	if inactiveChanged {
		s.notify(SliceParticipants, SliceInactive)
	} else {
		s.notify(SliceParticipants)
	}
}

// ---- current user media

func (s *Store) SetCurrentUserMedia(m CurrentUserMedia) {
	s.mu.Lock()
	changed := s.media != m
	s.media = m
	s.mu.Unlock()

	if changed {
		s.notify(SliceCurrentMedia, SliceAttendance)
	}
}

func (s *Store) CurrentUserMedia() CurrentUserMedia {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.media
}

// ---- screen share

// ClaimScreenShare installs a local session if and only if no session of
// any owner is active. It is the single compare-and-set behind the
// one-owner invariant.
func (s *Store) ClaimScreenShare(session ScreenShareSession) (ScreenShareSession, bool) {
	session.IsLocal = true

	s.mu.Lock()
	if s.screenShare != nil {
		current := *s.screenShare
		s.mu.Unlock()
		return current, false
	}
	s.screenShare = &session
	s.mu.Unlock()

	s.notify(SliceScreenShare)
	return session, true
}

// AttachScreenShareTracks fills in the tracks of the local session owned by ownerId.
func (s *Store) AttachScreenShareTracks(ownerId string, video, audio TrackHandle) bool {
	s.mu.Lock()
	ok := s.screenShare != nil && s.screenShare.IsLocal && s.screenShare.OwnerId == ownerId
	if ok {
		s.screenShare.VideoTrack = video
		s.screenShare.AudioTrack = audio
	}
	s.mu.Unlock()

	if ok {
		s.notify(SliceScreenShare)
	}
	return ok
}

// ReleaseLocalScreenShare clears the session only if it is local.
func (s *Store) ReleaseLocalScreenShare() bool {
	s.mu.Lock()
	ok := s.screenShare != nil && s.screenShare.IsLocal
	if ok {
		s.screenShare = nil
	}
	s.mu.Unlock()

	if ok {
		s.notify(SliceScreenShare)
	}
	return ok
}

// AnnounceRemoteScreenShare records a remote owner. It never overrides an
// active local share; between remote owners the latest announcement wins.
func (s *Store) AnnounceRemoteScreenShare(session ScreenShareSession) bool {
	session.IsLocal = false

	s.mu.Lock()
	if s.screenShare != nil && s.screenShare.IsLocal {
		s.mu.Unlock()
		return false
	}
	s.screenShare = &session
	s.mu.Unlock()

	s.notify(SliceScreenShare)
	return true
}

// ClearRemoteScreenShare clears the session only if ownerId holds it remotely.
func (s *Store) ClearRemoteScreenShare(ownerId string) bool {
	s.mu.Lock()
	ok := s.screenShare != nil && !s.screenShare.IsLocal && s.screenShare.OwnerId == ownerId
	if ok {
		s.screenShare = nil
	}
	s.mu.Unlock()

	if ok {
		s.notify(SliceScreenShare)
	}
	return ok
}

func (s *Store) ScreenShare() (ScreenShareSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.screenShare == nil {
		return ScreenShareSession{}, false
	}
	return *s.screenShare, true
}

// ---- attendance

// SetAttendance replaces the snapshot wholesale.
func (s *Store) SetAttendance(snapshot AttendanceSnapshot) {
	s.mu.Lock()
	s.attendance = AttendanceSnapshot{
		PresentMembers: append([]Member(nil), snapshot.PresentMembers...),
		AbsentMembers:  append([]Member(nil), snapshot.AbsentMembers...),
	}
	s.mu.Unlock()

	s.notify(SliceAttendance)
}

// Attendance returns the last snapshot with IsMicOn/IsCameraOn overlaid from
// live participant data. Members without live data read as off.
func (s *Store) Attendance() AttendanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return AttendanceSnapshot{
		PresentMembers: s.overlayMembers(s.attendance.PresentMembers),
		AbsentMembers:  s.overlayMembers(s.attendance.AbsentMembers),
	}
}

func (s *Store) overlayMembers(members []Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		m.IsMicOn, m.IsCameraOn = false, false
		if m.UserId == s.self.UserId && len(m.UserId) > 0 {
			m.IsMicOn, m.IsCameraOn = s.media.IsMicOn, s.media.IsCameraOn
		} else if p, ok := s.participants[m.UserId]; ok {
			m.IsMicOn, m.IsCameraOn = p.IsMicOn, p.IsCameraOn
		}
		if len(s.host.UserId) > 0 {
			m.IsHost = m.UserId == s.host.UserId
		}
		out = append(out, m)
	}
	return out
}

// ---- host

// SetHost records the confirmed host; it supersedes any status hint.
func (s *Store) SetHost(userId, userName string) {
	s.mu.Lock()
	s.host = Host{UserId: userId, UserName: userName, IsSelf: len(userId) > 0 && userId == s.self.UserId}
	s.hostFlag = nil
	s.mu.Unlock()

	s.notify(SliceHost, SliceAttendance)
}

// SetHostFlag records the status topic's isHostUser hint. It only applies
// while no host id is known.
func (s *Store) SetHostFlag(isHost bool) {
	s.mu.Lock()
	s.hostFlag = &isHost
	s.mu.Unlock()

	s.notify(SliceHost)
}

func (s *Store) Host() Host {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.host
	if len(h.UserId) == 0 && s.hostFlag != nil {
		h.IsSelf = *s.hostFlag
	}
	return h
}

func (s *Store) IsHost() bool {
	return s.Host().IsSelf
}

// ---- timer

// SetTimer replaces the timer state wholesale.
func (s *Store) SetTimer(t TimerState) {
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()

	s.notify(SliceTimer)
}

// UpdateTimer applies fn to the timer under the lock, so read-modify-write
// sequences from the protocol and its ticker cannot interleave.
func (s *Store) UpdateTimer(fn func(t TimerState) TimerState) TimerState {
	s.mu.Lock()
	prev := s.timer
	s.timer = fn(s.timer)
	next := s.timer
	s.mu.Unlock()

	if !timerEqual(prev, next) {
		s.notify(SliceTimer)
	}
	return next
}

func timerEqual(a, b TimerState) bool {
	if a.Status != b.Status || a.DurationSeconds != b.DurationSeconds ||
		a.RemainingSeconds != b.RemainingSeconds || a.RemainingSecondsSynced != b.RemainingSecondsSynced ||
		!a.LastSyncedAt.Equal(b.LastSyncedAt) {
		return false
	}
	if (a.ServerStartTime == nil) != (b.ServerStartTime == nil) {
		return false
	}
	return a.ServerStartTime == nil || a.ServerStartTime.Equal(*b.ServerStartTime)
}

func (s *Store) Timer() TimerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timer
}

// ---- chat

// AddChatMessage inserts msg unless a message with the same id exists.
func (s *Store) AddChatMessage(msg ChatMessage) bool {
	if len(msg.Id) == 0 {
		return false
	}
	s.mu.Lock()
	if s.chatIds.Contains(msg.Id) {
		s.mu.Unlock()
		return false
	}
	s.chatIds.Add(msg.Id)
	s.chat = append(s.chat, msg)
	s.mu.Unlock()

	s.notify(SliceChat)
	return true
}

func (s *Store) Chat() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatMessage(nil), s.chat...)
}

// ---- inactivity

// ReplaceInactive replaces the inactive set wholesale with a server
// snapshot, minus every id that is speaking now or spoke within the recent
// window.
func (s *Store) ReplaceInactive(userIds []string) {
	now := s.clock.Now()

	s.mu.Lock()
	next := jvbuster.NewStringSetSized(len(userIds))
	for _, id := range userIds {
		if s.localSpeaking.Contains(id) || s.relaySpeaking.Contains(id) {
			continue
		}
		if at, ok := s.lastSpoke[id]; ok && now.Sub(at) < s.recentWindow {
			continue
		}
		next.Add(id)
	}
	s.inactive = next
	s.mu.Unlock()

	s.notify(SliceInactive)
}

// MarkSpeaking records a local speaking observation. It can only remove ids
// from the inactive set, never add them.
func (s *Store) MarkSpeaking(userId string, speaking bool) {
	now := s.clock.Now()

	s.mu.Lock()
	s.lastSpoke[userId] = now
	removed := false
	if speaking {
		s.localSpeaking.Add(userId)
		if s.inactive.Contains(userId) {
			delete(s.inactive, userId)
			removed = true
		}
	} else {
		delete(s.localSpeaking, userId)
	}
	s.mu.Unlock()

	if removed {
		s.notify(SliceInactive)
	}
}

func (s *Store) InactiveUserIds() []string {
	s.mu.RLock()
	ids := s.inactive.GetSlice()
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) IsInactive(userId string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inactive.Contains(userId)
}

// ---- random pick

func (s *Store) SetSelectedSpeaker(userId string, pickedAt time.Time) {
	s.mu.Lock()
	s.selected = &SelectedSpeaker{UserId: userId, PickedAt: pickedAt}
	s.mu.Unlock()

	s.notify(SliceSelected)
}

func (s *Store) SelectedSpeaker() (SelectedSpeaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return SelectedSpeaker{}, false
	}
	return *s.selected, true
}

// ---- connections

func (s *Store) SetRelayConnection(status ConnectionStatus) {
	s.mu.Lock()
	changed := s.connections.Relay != status
	s.connections.Relay = status
	s.mu.Unlock()

	if changed {
		s.notify(SliceConnection)
	}
}

func (s *Store) SetSignalingConnection(status ConnectionStatus) {
	s.mu.Lock()
	changed := s.connections.Signaling != status
	s.connections.Signaling = status
	s.mu.Unlock()

	if changed {
		s.notify(SliceConnection)
	}
}

func (s *Store) Connections() Connections {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections
}

// ClearRelayState drops everything the relay session owned: remote
// participants, a remote screen share and the host. Chat, timer and
// attendance belong to the signaling channel and are kept.
func (s *Store) ClearRelayState() {
	s.mu.Lock()
	s.participants = map[string]*Participant{}
	s.order = nil
	if s.screenShare != nil && !s.screenShare.IsLocal {
		s.screenShare = nil
	}
	s.host = Host{}
	s.hostFlag = nil
	s.relaySpeaking = jvbuster.StringSet{}
	s.mu.Unlock()

	s.notify(SliceParticipants, SliceScreenShare, SliceHost, SliceAttendance)
}
