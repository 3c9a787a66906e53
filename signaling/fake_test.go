package signaling

import (
	"context"
	"errors"
	"sync"
)

type fakeSubscription struct {
	destination string
	frames      chan Frame
	closeOnce   sync.Once
	closed      chan struct{}
	err         error
}

func newFakeSubscription(destination string) *fakeSubscription {
	return &fakeSubscription{
		destination: destination,
		frames:      make(chan Frame, 256),
		closed:      make(chan struct{}),
	}
}

func (s *fakeSubscription) Next() (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return Frame{}, s.err
	}
}

func (s *fakeSubscription) fail(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.closed)
	})
}

func (s *fakeSubscription) Unsubscribe() error {
	s.fail(ErrSubscriptionClosed)
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type sentFrame struct {
	destination string
	body        string
}

type fakeSession struct {
	mu      sync.Mutex
	subs    map[string]*fakeSubscription
	order   []string
	sent    []sentFrame
	sendErr error
	closed  bool
}

func (s *fakeSession) Subscribe(destination string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := newFakeSubscription(destination)
	s.subs[destination] = sub
	s.order = append(s.order, destination)
	return sub, nil
}

func (s *fakeSession) Send(destination string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentFrame{destination: destination, body: string(body)})
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) sub(destination string) *fakeSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[destination]
}

func (s *fakeSession) destinations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *fakeSession) sentFrames() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFrame(nil), s.sent...)
}

// breakAll simulates the broker dropping the connection.
func (s *fakeSession) breakAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		sub.fail(errors.New("connection reset"))
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failures int
}

func (d *fakeDialer) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	s := &fakeSession{subs: map[string]*fakeSubscription{}}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
