package bot

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/enisa-bot/howdies"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

// fakeConn stands in for a websocket handle. Frames are delivered synchronously
// from the test goroutine, which plays the part of the reader.
type fakeConn struct {
	mu     sync.Mutex
	l      howdies.Listener
	sent   []any
	done   chan struct{}
	once   sync.Once
	code   int
	reason string
}

func newFakeConn() *fakeConn { return &fakeConn{done: make(chan struct{})} }

func (c *fakeConn) Listen(l howdies.Listener) {
	c.mu.Lock()
	c.l = l
	c.mu.Unlock()
	l.OnOpen()
}

func (c *fakeConn) Send(v any) error {
	select {
	case <-c.done:
		return &howdies.SendError{Err: howdies.ErrNotConnected}
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, v)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.drop(1000, "closed by client")
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

func (c *fakeConn) drop(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		l := c.l
		c.mu.Unlock()
		if l != nil {
			l.OnClose(code, reason)
		}
		close(c.done)
	})
}

func (c *fakeConn) deliver(t *testing.T, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	c.mu.Lock()
	l := c.l
	c.mu.Unlock()
	require.NotNil(t, l, "deliver before Listen")
	l.OnMessage(raw)
}

func (c *fakeConn) loginOK(t *testing.T, userID int) {
	c.deliver(t, map[string]any{"handler": "login", "status": "success", "userID": userID})
}

func (c *fakeConn) joins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, v := range c.sent {
		if f, ok := v.(howdies.JoinRoomFrame); ok {
			out = append(out, f.Name)
		}
	}
	return out
}

func (c *fakeConn) said() []howdies.RoomMessageFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []howdies.RoomMessageFrame
	for _, v := range c.sent {
		if f, ok := v.(howdies.RoomMessageFrame); ok {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) loginSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.sent {
		if _, ok := v.(howdies.LoginFrame); ok {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	conns chan *fakeConn
	mu    sync.Mutex
	fail  []error
}

func newFakeDialer() *fakeDialer { return &fakeDialer{conns: make(chan *fakeConn, 16)} }

func (d *fakeDialer) Dial(ctx context.Context, sess howdies.Session) (Connection, error) {
	d.mu.Lock()
	if len(d.fail) > 0 {
		err := d.fail[0]
		d.fail = d.fail[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no dial attempt")
		return nil
	}
}

func (d *fakeDialer) requireNoDial(t *testing.T) {
	t.Helper()
	select {
	case <-d.conns:
		t.Fatal("unexpected dial attempt")
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeAcquirer struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
}

// setErr makes every following Acquire fail with err; nil restores success.
func (a *fakeAcquirer) setErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *fakeAcquirer) Acquire(ctx context.Context, username, password string) (howdies.Session, error) {
	a.calls.Add(1)
	a.mu.Lock()
	err := a.err
	a.mu.Unlock()
	if err != nil {
		return howdies.Session{}, err
	}
	return howdies.Session{Token: "tok", Owner: username}, nil
}

type fakeProcessor struct {
	got   chan howdies.ChatMessage
	reply string
	join  string
}

func newFakeProcessor() *fakeProcessor { return &fakeProcessor{got: make(chan howdies.ChatMessage, 16)} }

func (p *fakeProcessor) Process(ctx context.Context, out Outbox, msg howdies.ChatMessage) error {
	if p.reply != "" {
		_ = out.Say(msg.RoomID, p.reply)
	}
	if p.join != "" {
		_ = out.Join(p.join)
	}
	p.got <- msg
	return nil
}

type harness struct {
	bot    *Bot
	clock  fakeClock
	dialer *fakeDialer
	auth   *fakeAcquirer
	proc   *fakeProcessor
	ctx    context.Context
}

func defaultTestOptions() Options {
	return Options{
		Username:    "enisa",
		Password:    "secret",
		MinBackoff:  10 * time.Second,
		MaxBackoff:  300 * time.Second,
		StopTimeout: 5 * time.Second,
		MaxInflight: 4,
		QueueWait:   50 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts.Clock = clock
	h := &harness{
		clock:  clock,
		dialer: newFakeDialer(),
		auth:   &fakeAcquirer{},
		proc:   newFakeProcessor(),
	}
	h.bot = New(opts, h.auth, h.dialer, h.proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.bot.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	h.ctx = ctx
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.bot.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s (now %s)", want, h.bot.State())
}

// waitTimer blocks until n goroutines are sleeping on the fake clock.
func (h *harness) waitTimer(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, n))
}

// connect starts the bot and logs in on the first handle.
func (h *harness) connect(t *testing.T, userID int) *fakeConn {
	t.Helper()
	require.True(t, h.bot.RequestStart())
	c := h.dialer.next(t)
	waitLogin(t, c)
	c.loginOK(t, userID)
	h.waitState(t, Active)
	return c
}

func waitLogin(t *testing.T, c *fakeConn) {
	t.Helper()
	require.Eventually(t, c.loginSent, 2*time.Second, 5*time.Millisecond, "login frame not sent on open")
}
