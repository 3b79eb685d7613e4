package bot

import (
	"context"
	"net/http"

	"github.com/onnwee/enisa-bot/howdies"
)

// SessionAcquirer exchanges credentials for a one-shot session token.
type SessionAcquirer interface {
	Acquire(ctx context.Context, username, password string) (howdies.Session, error)
}

// Connection is one transport handle. *howdies.Conn implements it.
type Connection interface {
	Listen(l howdies.Listener)
	Send(v any) error
	Close() error
	Done() <-chan struct{}
	CloseStatus() (int, string)
}

// Dialer opens a Connection for a session.
type Dialer interface {
	Dial(ctx context.Context, sess howdies.Session) (Connection, error)
}

// WSDialer dials the chat service websocket with the session token in the query.
type WSDialer struct {
	Dialer *howdies.Dialer
	URL    string
	Header http.Header
}

func (d WSDialer) Dial(ctx context.Context, sess howdies.Session) (Connection, error) {
	u, err := howdies.SessionURL(d.URL, sess.Token)
	if err != nil {
		return nil, &howdies.TransportError{Op: "dial", Err: err}
	}
	hd := d.Dialer
	if hd == nil {
		hd = &howdies.Dialer{}
	}
	conn, err := hd.Dial(ctx, u, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
