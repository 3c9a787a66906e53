package common

import (
	"context"
	"errors"
	"sync"
	"time"

	jvbuster "github.com/Connect-Club/connectclub-jvbuster-client"
	"github.com/Connect-Club/connectclub-meet-common/capture"
	"github.com/Connect-Club/connectclub-meet-common/config"
	"github.com/Connect-Club/connectclub-meet-common/leave"
	"github.com/Connect-Club/connectclub-meet-common/logs"
	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/relay"
	"github.com/Connect-Club/connectclub-meet-common/screenshare"
	"github.com/Connect-Club/connectclub-meet-common/signaling"
	"github.com/Connect-Club/connectclub-meet-common/speaking"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/Connect-Club/connectclub-meet-common/timer"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type MeetRoomState int32

const (
	MeetRoomStateConnecting MeetRoomState = iota
	MeetRoomStateConnected
	MeetRoomStateClosed
)

func (s MeetRoomState) String() string {
	return [...]string{
		"Connecting",
		"Connected",
		"Closed",
	}[s]
}

var ErrRoomClosed = errors.New("the room is closed")

// Deps are the collaborators of one meeting session.
type Deps struct {
	MeetId string
	Self   store.Identity
	IsHost bool

	Api     leave.API
	Relay   relay.Relay
	Dialer  signaling.Dialer
	Devices capture.Devices
	Issuer  relay.TokenIssuer

	Camera bool
	Mic    bool

	Clock clock.Clock
}

func (d Deps) check() error {
	switch {
	case len(d.MeetId) == 0:
		return errors.New("meetId is required")
	case len(d.Self.UserId) == 0:
		return errors.New("self userId is required")
	case d.Api == nil, d.Relay == nil, d.Dialer == nil, d.Devices == nil, d.Issuer == nil:
		return errors.New("api, relay, dialer, devices and issuer are required")
	}
	return nil
}

// quietPublisher drops speaking updates while signaling is down instead
// of raising a notice for every sample.
type quietPublisher struct {
	channel *signaling.Channel
}

func (p quietPublisher) Publish(destination string, body []byte) bool {
	if p.channel.State() != signaling.StateConnected {
		return false
	}
	return p.channel.Publish(destination, body)
}

// MeetRoom runs one meeting session: it owns every component and tears them
// down in reverse dependency order.
type MeetRoom struct {
	BaseRoom
	state       MeetRoomState
	meetId      string
	channel     *signaling.Channel
	adapter     *relay.Adapter
	capture     *capture.Manager
	screenShare *screenshare.Negotiator
	detector    *speaking.Detector
	leave       *leave.Protocol
	relayTask   *jvbuster.Task
	unsubscribe []func()
	cancelLoops context.CancelFunc
	loops       sync.WaitGroup
	logger      *log.Entry

	mu sync.RWMutex
}

func ConnectToMeetRoom(delegate MeetDelegate, cfg config.Config, deps Deps) (*MeetRoom, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	c := deps.Clock
	if c == nil {
		c = clock.New()
	}

	st := store.New(store.WithClock(c), store.WithRecentSpeakingWindow(cfg.Speaking.RecentWindow))
	st.Begin(deps.MeetId, deps.Self)
	if deps.IsHost {
		st.SetHost(deps.Self.UserId, deps.Self.UserName)
	}

	r := &MeetRoom{
		BaseRoom: BaseRoom{
			store:    st,
			delegate: delegate,
			clock:    c,
		},
		state:  MeetRoomStateConnecting,
		meetId: deps.MeetId,
		logger: logs.ForMeet("MeetRoom", deps.MeetId),
	}

	r.channel = signaling.NewChannel(deps.Dialer,
		signaling.WithReconnectDelay(cfg.Signaling.ReconnectDelay),
		signaling.WithNotices(r),
		signaling.WithStateListener(r.onSignalingState),
	)
	adapterOpts := []relay.AdapterOption{relay.WithClock(c)}
	if len(cfg.Relay.Url) > 0 {
		adapterOpts = append(adapterOpts, relay.WithUrl(cfg.Relay.Url))
	}
	r.adapter = relay.NewAdapter(deps.Relay, deps.Issuer, st, adapterOpts...)

	meter := capture.NewAudioMeter()
	r.capture = capture.NewManager(deps.Devices, r.adapter, st, meter)
	r.screenShare = screenshare.NewNegotiator(deps.Devices, r.adapter, st)
	r.timer = timer.New(st, r.channel,
		timer.WithClock(c),
		timer.WithTick(cfg.Timer.Tick),
		timer.WithNotices(r),
	)
	r.detector = speaking.New(st, quietPublisher{channel: r.channel}, meter, speaking.Config{
		Threshold:      cfg.Speaking.Threshold,
		SampleInterval: cfg.Speaking.SampleInterval,
		Hangover:       cfg.Speaking.Hangover,
		KeepAlive:      cfg.Speaking.KeepAlive,
	}, c)
	r.leave = leave.New(deps.Api, st)
	r.relayTask = jvbuster.CreateTask(r.relayConnect, 0, false)

	for _, slice := range store.AllSlices {
		slice := slice
		r.unsubscribe = append(r.unsubscribe, st.Subscribe(slice, func() {
			if slice == store.SliceConnection {
				r.processStates()
			}
			delegate.OnSliceChanged(string(slice))
		}))
	}

	delegate.OnStateChanged(int(MeetRoomStateConnecting))
	if err := r.channel.Activate(deps.MeetId, r.handlers()); err != nil {
		r.unsubscribeAll()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelLoops = cancel
	r.loops.Add(2)
	go func() {
		defer r.loops.Done()
		r.timer.Run(ctx)
	}()
	go func() {
		defer r.loops.Done()
		r.detector.Run(ctx)
	}()

	if err := r.capture.StartStream(ctx, deps.Camera, deps.Mic); err != nil {
		r.logger.WithError(err).Warn("starting with partial local media")
		r.notifyError(err)
	}
	r.relayTask.Run()
	return r, nil
}

func (r *MeetRoom) relayConnect(ctx context.Context) {
	if err := r.adapter.Connect(ctx, r.meetId, r.store.Self().UserName, r.capture.Tracks()); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.WithError(err).Warn("cannot connect to relay")
		r.notifyError(err)
	}
}

func (r *MeetRoom) onSignalingState(s signaling.State) {
	switch s {
	case signaling.StateConnecting:
		r.store.SetSignalingConnection(store.ConnectionConnecting)
	case signaling.StateConnected:
		r.store.SetSignalingConnection(store.ConnectionConnected)
	case signaling.StateClosed:
		r.store.SetSignalingConnection(store.ConnectionClosed)
	default:
		r.store.SetSignalingConnection(store.ConnectionIdle)
	}
}

func (r *MeetRoom) processStates() {
	connections := r.store.Connections()

	r.mu.Lock()
	if r.state == MeetRoomStateClosed {
		r.mu.Unlock()
		return
	}
	newState := MeetRoomStateConnecting
	if connections.Relay == store.ConnectionConnected && connections.Signaling == store.ConnectionConnected {
		newState = MeetRoomStateConnected
	}
	changed := r.state != newState
	r.state = newState
	r.mu.Unlock()

	if changed {
		r.logger.Infof("room state=%v", newState.String())
		r.delegate.OnStateChanged(int(newState))
	}
}

func (r *MeetRoom) State() MeetRoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *MeetRoom) closed() bool {
	return r.State() == MeetRoomStateClosed
}

// ReconnectRelay retries the relay connection after a connection notice.
func (r *MeetRoom) ReconnectRelay() {
	if r.closed() || r.adapter.IsConnected() {
		return
	}
	r.relayTask.Run()
}

func (r *MeetRoom) ToggleCamera(ctx context.Context) error {
	if r.closed() {
		return ErrRoomClosed
	}
	err := r.capture.ToggleCamera(ctx)
	r.notifyError(err)
	return err
}

func (r *MeetRoom) ToggleMic(ctx context.Context) error {
	if r.closed() {
		return ErrRoomClosed
	}
	err := r.capture.ToggleMic(ctx)
	r.notifyError(err)
	return err
}

func (r *MeetRoom) StartScreenShare(ctx context.Context) error {
	if r.closed() {
		return ErrRoomClosed
	}
	err := r.screenShare.Start(ctx)
	r.notifyError(err)
	return err
}

func (r *MeetRoom) StopScreenShare() {
	r.screenShare.Stop()
}

// SendChat publishes a chat message. Private messages are not echoed by the
// server, so they are stored locally once published.
func (r *MeetRoom) SendChat(content string, targetUserId string) error {
	if r.closed() {
		return ErrRoomClosed
	}
	if len(content) == 0 {
		return nil
	}
	self := r.store.Self()
	request := signaling.ChatRequest{SenderName: self.UserName, Content: content}
	if len(targetUserId) > 0 {
		request.TargetUserId = &targetUserId
	}
	if !r.channel.PublishJSON(signaling.ChatDestination(r.meetId), request) {
		return notice.ErrNotConnected
	}
	if request.TargetUserId != nil {
		r.store.AddChatMessage(store.ChatMessage{
			Id:           uuid.NewString(),
			MeetId:       r.meetId,
			SenderId:     self.UserId,
			SenderName:   self.UserName,
			TargetUserId: request.TargetUserId,
			Content:      content,
			Timestamp:    r.clock.Now(),
			Origin:       store.OriginLocal,
		})
	}
	return nil
}

func (r *MeetRoom) StartTimer(seconds int) error {
	return r.timer.RequestStart(seconds)
}

func (r *MeetRoom) PauseTimer() error {
	return r.timer.RequestPause()
}

func (r *MeetRoom) ResumeTimer() error {
	return r.timer.RequestResume()
}

func (r *MeetRoom) EndTimer() error {
	return r.timer.RequestEnd()
}

// RandomPick asks the server to pick a random speaker. Host only.
func (r *MeetRoom) RandomPick() error {
	if !r.store.IsHost() {
		r.notifyError(notice.ErrNotHost)
		return notice.ErrNotHost
	}
	if !r.channel.Publish(signaling.RandomPickDestination(r.meetId), nil) {
		return notice.ErrNotConnected
	}
	return nil
}

// Leave asks to leave the meeting. The room is closed unless the result
// requires a host transfer.
func (r *MeetRoom) Leave(ctx context.Context) (leave.Result, error) {
	if r.closed() {
		return leave.Result{}, ErrRoomClosed
	}
	result, err := r.leave.Leave(ctx)
	if err != nil {
		r.notifyError(err)
		return result, err
	}
	if result.Departed() {
		r.depart(result.Outcome)
	}
	return result, nil
}

func (r *MeetRoom) TransferHostAndLeave(ctx context.Context, candidateId string) error {
	if r.closed() {
		return ErrRoomClosed
	}
	if err := r.leave.TransferHostAndLeave(ctx, candidateId); err != nil {
		r.notifyError(err)
		return err
	}
	r.depart(leave.OutcomeLeft)
	return nil
}

func (r *MeetRoom) depart(outcome leave.Outcome) {
	r.Disconnect()
	r.delegate.OnDeparted(string(outcome))
}

// Disconnect releases everything the session acquired and clears the store.
// It must not be called from a delegate callback running on a signaling
// handler.
func (r *MeetRoom) Disconnect() {
	r.logger.Info("⤵")
	defer r.logger.Info("⤴")

	r.mu.Lock()
	if r.state == MeetRoomStateClosed {
		r.mu.Unlock()
		r.logger.Info("the room is already closed")
		return
	}
	r.state = MeetRoomStateClosed
	r.mu.Unlock()

	r.cancelLoops()
	r.loops.Wait()
	r.timer.Reset()

	r.screenShare.Stop()
	r.capture.StopStream()

	if err := r.relayTask.Stop(time.Second * 10); err != nil {
		r.logger.WithError(err).Error("cannot stop relayTask")
	}
	r.adapter.Disconnect()
	r.channel.Deactivate()

	r.store.Reset()
	r.unsubscribeAll()

	r.logger.Infof("room state=%v", MeetRoomStateClosed.String())
	r.delegate.OnStateChanged(int(MeetRoomStateClosed))
}

func (r *MeetRoom) unsubscribeAll() {
	for _, unsubscribe := range r.unsubscribe {
		unsubscribe()
	}
	r.unsubscribe = nil
}
