package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	common "github.com/Connect-Club/connectclub-meet-common"
	"github.com/Connect-Club/connectclub-meet-common/capture"
	"github.com/Connect-Club/connectclub-meet-common/relay"
	"github.com/Connect-Club/connectclub-meet-common/signaling"
	"github.com/Connect-Club/connectclub-meet-common/storage"
	"github.com/Connect-Club/connectclub-meet-common/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type joinOptions struct {
	create bool
	title  string
	camera bool
	mic    bool
}

func NewJoinCmd(deps *Dependencies) *cobra.Command {
	opts := joinOptions{}

	cmd := &cobra.Command{
		Use:   "join <boardId>",
		Short: "Join the meeting of a board",
		Long:  "Joins (or with --create starts) the meeting of a board and reads commands from stdin until you leave. Type help for the command list.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), deps, args[0], opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.create, "create", false, "Start a new meeting on the board first")
	cmd.Flags().StringVar(&opts.title, "title", "", "Title of the created meeting")
	cmd.Flags().BoolVar(&opts.camera, "camera", false, "Publish the camera on join")
	cmd.Flags().BoolVar(&opts.mic, "mic", true, "Publish the microphone on join")

	return cmd
}

func runJoin(ctx context.Context, deps *Dependencies, boardId string, opts joinOptions, in io.Reader, out io.Writer) error {
	cfg := deps.Config
	if len(cfg.Log.File) > 0 {
		if err := common.InitLoggerFile(filepath.Dir(cfg.Log.File), filepath.Base(cfg.Log.File)); err != nil {
			log.WithError(err).Warn("logging to stderr only")
		} else {
			defer common.CloseLoggerFile()
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.create {
		meeting, err := deps.Client.CreateMeeting(ctx, boardId, opts.title)
		if err != nil {
			return fmt.Errorf("creating meeting: %w", err)
		}
		log.WithField("meetId", meeting.Id).Info("meeting created")
	}
	joined, err := deps.Client.JoinMeeting(ctx, boardId)
	if err != nil {
		return fmt.Errorf("joining meeting: %w", err)
	}

	devices, err := capture.NewMediaDevices(
		capture.VideoConstraints{Width: 640, Height: 480, FrameRate: 30},
		capture.VideoConstraints{FrameRate: 15},
	)
	if err != nil {
		return fmt.Errorf("initializing devices: %w", err)
	}

	var issuer relay.TokenIssuer = deps.Client
	if cfg.DevTokens() {
		issuer = &relay.DevTokenIssuer{Url: cfg.Relay.Url, ApiKey: cfg.Relay.ApiKey, ApiSecret: cfg.Relay.ApiSecret}
	}

	delegate := newPrintDelegate(out)
	room, err := common.ConnectToMeetRoom(delegate, cfg, common.Deps{
		MeetId: joined.Meeting.Id,
		Self:   joined.Self,
		IsHost: joined.IsHost,
		Api:    deps.Client,
		Relay:  relay.NewLiveKit(),
		Dialer: &signaling.StompDialer{
			Url:       cfg.Signaling.Url,
			HeartBeat: cfg.Signaling.Heartbeat,
			Token: func() string {
				return storage.Get().GetString(storage.KeyAccessToken)
			},
		},
		Devices: devices,
		Issuer:  issuer,
		Camera:  opts.camera,
		Mic:     opts.mic,
	})
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer room.Disconnect()
	fmt.Fprintf(out, "joined %s as %s, type help for commands\n", joined.Meeting.Id, joined.Self.UserName)

	console := NewConsole(room, out)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case outcome := <-delegate.departed:
			fmt.Fprintf(out, "left the meeting: %s\n", outcome)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := console.Execute(ctx, line)
			if err != nil {
				log.WithError(err).Debug("command failed")
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// printDelegate writes room events to the terminal.
type printDelegate struct {
	mu       sync.Mutex
	out      io.Writer
	departed chan string
}

func newPrintDelegate(out io.Writer) *printDelegate {
	return &printDelegate{out: out, departed: make(chan string, 1)}
}

func (d *printDelegate) printf(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, format, args...)
}

func (d *printDelegate) OnStateChanged(newState int) {
	d.printf("* room %s\n", common.MeetRoomState(newState))
}

func (d *printDelegate) OnSliceChanged(slice string) {
	switch store.Slice(slice) {
	case store.SliceChat, store.SliceHost, store.SliceSelected, store.SliceScreenShare:
		d.printf("* %s changed, show %s\n", slice, slice)
	}
}

func (d *printDelegate) OnNotice(kind string, message string) {
	d.printf("! %s: %s\n", kind, message)
}

func (d *printDelegate) OnDeparted(outcome string) {
	select {
	case d.departed <- outcome:
	default:
	}
}
