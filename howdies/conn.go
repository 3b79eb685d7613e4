package howdies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Listener receives connection lifecycle callbacks. OnMessage, OnError and OnClose are
// invoked from the connection's reader goroutine; OnOpen from the goroutine calling Listen.
type Listener interface {
	OnOpen()
	OnMessage(raw []byte)
	OnError(err error)
	OnClose(code int, reason string)
}

// Dialer opens websocket connections to the chat service.
type Dialer struct {
	HandshakeTimeout time.Duration // defaults to 15s
	WriteTimeout     time.Duration // defaults to 10s
	ReadLimit        int64         // defaults to 1 MiB
}

// SessionURL appends the session token to the websocket endpoint.
func SessionURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a connection. Reading starts only once Listen is called.
func (d *Dialer) Dial(ctx context.Context, rawURL string, header http.Header) (*Conn, error) {
	hs := d.HandshakeTimeout
	if hs <= 0 {
		hs = 15 * time.Second
	}
	wsd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: hs,
	}
	ws, resp, err := wsd.DialContext(ctx, rawURL, header)
	if err != nil {
		te := &TransportError{Op: "dial", Err: err}
		if resp != nil {
			te.Reason = resp.Status
		}
		return nil, te
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	ws.SetReadLimit(limit)
	wt := d.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	return &Conn{ws: ws, writeTimeout: wt, done: make(chan struct{})}, nil
}

// Conn is one live websocket connection. Once closed it stays closed.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu    sync.Mutex
	closed     atomic.Bool
	closeOnce  sync.Once
	listenOnce sync.Once
	done       chan struct{}

	statusMu sync.Mutex
	code     int
	reason   string
}

// Listen fires OnOpen and starts the reader goroutine. Calls after the first are ignored.
func (c *Conn) Listen(l Listener) {
	c.listenOnce.Do(func() {
		l.OnOpen()
		go c.readLoop(l)
	})
}

func (c *Conn) readLoop(l Listener) {
	defer close(c.done)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			deliberate := c.closed.Swap(true)
			code, reason := closeStatus(err, deliberate)
			c.statusMu.Lock()
			c.code, c.reason = code, reason
			c.statusMu.Unlock()
			if !deliberate && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.OnError(err)
			}
			_ = c.ws.Close()
			l.OnClose(code, reason)
			return
		}
		if IsHeartbeat(msg) {
			slog.Debug("heartbeat", slog.String("component", "howdies"))
			continue
		}
		l.OnMessage(msg)
	}
}

func closeStatus(err error, deliberate bool) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if deliberate {
		return websocket.CloseNormalClosure, "closed by client"
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// Send marshals v and writes it as one text frame. Writes are serialized and bounded
// by the write timeout; a closed connection fails immediately with ErrNotConnected.
func (c *Conn) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return &SendError{Err: err}
	}
	handler, _ := PeekHandler(b)
	if c.closed.Load() {
		return &SendError{Handler: handler, Err: ErrNotConnected}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return &SendError{Handler: handler, Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return &SendError{Handler: handler, Err: err}
	}
	return nil
}

// Close sends a normal close frame and tears the socket down. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Done is closed once the reader goroutine has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// CloseStatus returns the close code and reason observed by the reader.
func (c *Conn) CloseStatus() (int, string) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.code, c.reason
}
