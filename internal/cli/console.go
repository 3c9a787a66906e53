package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/Connect-Club/connectclub-meet-common/leave"
	"github.com/Connect-Club/connectclub-meet-common/store"
)

// Room is the part of common.MeetRoom the console drives.
type Room interface {
	ToggleCamera(ctx context.Context) error
	ToggleMic(ctx context.Context) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare()
	SendChat(content string, targetUserId string) error
	StartTimer(seconds int) error
	PauseTimer() error
	ResumeTimer() error
	EndTimer() error
	RandomPick() error
	Leave(ctx context.Context) (leave.Result, error)
	TransferHostAndLeave(ctx context.Context, candidateId string) error
	ReconnectRelay()
	Snapshot(slice string) []byte
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("wrong arguments")
)

const help = `commands:
  cam | mic                 toggle camera or microphone
  share | unshare           start or stop screen share
  chat <text>               public chat
  dm <userId> <text>        private chat
  timer start <seconds> | pause | resume | end
  pick                      random speaker (host)
  leave                     leave the meeting
  transfer <userId>         pass the host role and leave
  show <slice>              print a state slice as json
  reconnect                 retry the relay connection
  quit`

// Console executes one text command per line against a room.
type Console struct {
	room Room
	out  io.Writer
	mu   sync.Mutex
}

func NewConsole(room Room, out io.Writer) *Console {
	return &Console{room: room, out: out}
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Execute runs line. quit is true when the session should end.
func (c *Console) Execute(ctx context.Context, line string) (quit bool, err error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "":
		return false, nil
	case "help":
		c.printf("%s\n", help)
		return false, nil
	case "quit", "exit":
		return true, nil
	case "cam":
		return false, c.room.ToggleCamera(ctx)
	case "mic":
		return false, c.room.ToggleMic(ctx)
	case "share":
		return false, c.room.StartScreenShare(ctx)
	case "unshare":
		c.room.StopScreenShare()
		return false, nil
	case "chat":
		if len(rest) == 0 {
			return false, ErrUsage
		}
		return false, c.room.SendChat(rest, "")
	case "dm":
		target, text, ok := strings.Cut(rest, " ")
		if !ok || len(strings.TrimSpace(text)) == 0 {
			return false, ErrUsage
		}
		return false, c.room.SendChat(strings.TrimSpace(text), target)
	case "timer":
		return false, c.timer(rest)
	case "pick":
		return false, c.room.RandomPick()
	case "leave":
		return c.leave(ctx)
	case "transfer":
		if len(rest) == 0 {
			return false, ErrUsage
		}
		if err := c.room.TransferHostAndLeave(ctx, rest); err != nil {
			return false, err
		}
		return true, nil
	case "show":
		data := c.room.Snapshot(rest)
		if data == nil {
			return false, fmt.Errorf("%w: slice %q, one of %v", ErrUsage, rest, store.AllSlices)
		}
		c.printf("%s\n", data)
		return false, nil
	case "reconnect":
		c.room.ReconnectRelay()
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

func (c *Console) timer(args string) error {
	action, value, _ := strings.Cut(args, " ")
	switch action {
	case "start":
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: timer start <seconds>", ErrUsage)
		}
		return c.room.StartTimer(seconds)
	case "pause":
		return c.room.PauseTimer()
	case "resume":
		return c.room.ResumeTimer()
	case "end":
		return c.room.EndTimer()
	default:
		return fmt.Errorf("%w: timer start <seconds> | pause | resume | end", ErrUsage)
	}
}

func (c *Console) leave(ctx context.Context) (bool, error) {
	result, err := c.room.Leave(ctx)
	if err != nil {
		return false, err
	}
	if result.Departed() {
		return true, nil
	}
	c.printf("you are the host, pick a successor with transfer <userId>:\n")
	for _, candidate := range result.Candidates {
		c.printf("  %s %s\n", candidate.UserId, candidate.UserName)
	}
	return false, nil
}
