package signaling

import (
	"context"
	"errors"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Frame is one inbound message of a subscription.
type Frame struct {
	Destination string
	MessageId   string
	Body        []byte
}

type Subscription interface {
	// Next blocks until a frame arrives. It returns an error once the
	// subscription or its connection is gone.
	Next() (Frame, error)
	Unsubscribe() error
}

// Session is one authenticated broker connection.
type Session interface {
	Subscribe(destination string) (Subscription, error)
	Send(destination string, body []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}
