// Package notice holds the error taxonomy of a meeting session and the
// user-facing notices those errors turn into.
package notice

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConnection Kind = "connection"
	KindPermission Kind = "permission"
	KindConflict   Kind = "conflict"
	KindDevice     Kind = "device"
	KindParse      Kind = "parse"
	KindServer     Kind = "server"
)

var (
	ErrNotHost        = New(KindPermission, "host only", errors.New("only the host can do this"))
	ErrAlreadySharing = New(KindConflict, "screen share", errors.New("someone is already sharing the screen"))
	ErrNoCandidates   = New(KindConflict, "host transfer", errors.New("there is nobody to pass the host role to"))
	ErrSelfTransfer   = New(KindConflict, "host transfer", errors.New("cannot transfer the host role to yourself"))
	ErrNotConnected   = New(KindConnection, "publish", errors.New("signaling connection is not open"))
)

// Error tags an underlying error with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Wrap(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if len(e.Op) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by identity and any *Error of the same Kind and Op
// wrapping the same cause, so wrapped copies of a sentinel still match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.Kind == t.Kind && e.Op == t.Op && e.Err == t.Err)
}

// KindOf returns the Kind carried by err, KindServer for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// Notice is what the rendering layer shows; it is dismissible and never fatal.
type Notice struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func FromError(err error) Notice {
	var e *Error
	if errors.As(err, &e) {
		return Notice{Kind: e.Kind, Message: e.Err.Error()}
	}
	return Notice{Kind: KindServer, Message: err.Error()}
}

// Sink receives notices. Implementations must not block.
type Sink interface {
	Notify(n Notice)
}

type SinkFunc func(n Notice)

func (f SinkFunc) Notify(n Notice) {
	f(n)
}

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})
