package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-stomp/stomp/v3"
	log "github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const (
	contentTypeJson  = "application/json"
	stompSubprotocol = "v12.stomp"
)

// StompDialer opens STOMP 1.2 sessions over a websocket.
type StompDialer struct {
	Url       string
	HeartBeat time.Duration
	// Token returns the bearer token presented on the handshake and the
	// CONNECT frame. It is called on every dial so refreshed tokens are used.
	Token func() string
}

func (d *StompDialer) Dial(ctx context.Context) (Session, error) {
	token := ""
	if d.Token != nil {
		token = d.Token()
	}
	header := http.Header{}
	if len(token) > 0 {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := websocket.Dial(ctx, d.Url, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{stompSubprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot dial %v: %w", d.Url, err)
	}
	ws.SetReadLimit(1 << 20)
	netConn := websocket.NetConn(context.Background(), ws, websocket.MessageText)

	host := "/"
	if u, err := url.Parse(d.Url); err == nil && len(u.Hostname()) > 0 {
		host = u.Hostname()
	}
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(d.HeartBeat, d.HeartBeat),
	}
	if len(token) > 0 {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+token))
	}
	conn, err := stomp.Connect(netConn, opts...)
	if err != nil {
		_ = ws.Close(websocket.StatusAbnormalClosure, "stomp connect failed")
		return nil, fmt.Errorf("cannot connect stomp: %w", err)
	}
	return &stompSession{conn: conn, ws: ws}, nil
}

type stompSession struct {
	conn *stomp.Conn
	ws   *websocket.Conn
}

func (s *stompSession) Subscribe(destination string) (Subscription, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	return &stompSubscription{sub: sub}, nil
}

func (s *stompSession) Send(destination string, body []byte) error {
	return s.conn.Send(destination, contentTypeJson, body)
}

func (s *stompSession) Close() error {
	if err := s.conn.Disconnect(); err != nil {
		log.WithError(err).Debug("stomp disconnect")
	}
	return s.ws.Close(websocket.StatusNormalClosure, "")
}

type stompSubscription struct {
	sub *stomp.Subscription
}

func (s *stompSubscription) Next() (Frame, error) {
	msg, ok := <-s.sub.C
	if !ok {
		return Frame{}, ErrSubscriptionClosed
	}
	if msg.Err != nil {
		return Frame{}, msg.Err
	}
	f := Frame{Destination: msg.Destination, Body: msg.Body}
	if msg.Header != nil {
		f.MessageId = msg.Header.Get("message-id")
	}
	return f, nil
}

func (s *stompSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
