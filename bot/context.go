package bot

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/enisa-bot/howdies"
	"github.com/onnwee/enisa-bot/telemetry"
)

// Identity is who the bot is logged in as on the current handle.
type Identity struct {
	UserID   howdies.ID
	Username string
}

// ConnectionContext owns every piece of mutable connection state. The supervisor,
// the reader goroutine and HTTP handlers all go through its methods, which share
// one mutex. Handles are numbered; a callback carrying an old number is stale.
type ConnectionContext struct {
	clock clockwork.Clock

	mu            sync.Mutex
	state         State
	since         time.Time
	gen           uint64
	handle        Connection
	handleCancel  context.CancelFunc
	identity      *Identity
	stopRequested bool
	runCancel     context.CancelFunc
	settled       chan struct{}
	backoff       Backoff
	lastErr       error
	loginErr      error
}

func newConnectionContext(clock clockwork.Clock, backoff Backoff) *ConnectionContext {
	cc := &ConnectionContext{clock: clock, backoff: backoff, since: clock.Now()}
	telemetry.SetBotState(Idle.String(), false)
	telemetry.SetBackoff(backoff.Current())
	return cc
}

func (cc *ConnectionContext) transitionLocked(s State) {
	cc.state = s
	cc.since = cc.clock.Now()
	telemetry.SetBotState(s.String(), s == Active)
}

// beginStart moves Idle to Connecting. It is false for any other state.
func (cc *ConnectionContext) beginStart() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.state != Idle {
		return false
	}
	cc.stopRequested = false
	cc.lastErr = nil
	cc.settled = make(chan struct{})
	cc.transitionLocked(Connecting)
	return true
}

// beginRun records the cancel func of a session run. It is false if Stop already arrived.
func (cc *ConnectionContext) beginRun(cancel context.CancelFunc) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.stopRequested {
		return false
	}
	cc.runCancel = cancel
	return true
}

// requestStop raises the Stop flag. When the machine is running it enters Closing,
// cancels the run and returns the live handle (if any) plus a channel closed on Idle.
func (cc *ConnectionContext) requestStop() (<-chan struct{}, Connection) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.stopRequested = true
	if cc.state == Idle {
		return nil, nil
	}
	if cc.state != Closing {
		cc.transitionLocked(Closing)
	}
	if cc.runCancel != nil {
		cc.runCancel()
	}
	return cc.settled, cc.handle
}

func (cc *ConnectionContext) stopping() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.stopRequested
}

// attach installs conn as the live handle and returns its number and a context that
// is cancelled when the handle goes away.
func (cc *ConnectionContext) attach(parent context.Context, conn Connection) (uint64, context.Context, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.stopRequested || cc.handle != nil {
		return 0, nil, false
	}
	cc.gen++
	ctx, cancel := context.WithCancel(parent)
	cc.handle = conn
	cc.handleCancel = cancel
	cc.loginErr = nil
	return cc.gen, ctx, true
}

// current reports whether frames from handle gen should still be processed.
func (cc *ConnectionContext) current(gen uint64) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return gen == cc.gen && cc.handle != nil && cc.state != Closing && !cc.stopRequested
}

func (cc *ConnectionContext) enterLoggingIn(gen uint64) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if gen != cc.gen || cc.handle == nil || cc.state != Connecting {
		return false
	}
	cc.transitionLocked(LoggingIn)
	return true
}

// loginSucceeded moves LoggingIn to Active, sets the identity and resets the backoff.
func (cc *ConnectionContext) loginSucceeded(gen uint64, id Identity) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if gen != cc.gen || cc.handle == nil || cc.state != LoggingIn {
		return false
	}
	cc.identity = &id
	cc.backoff.Reset()
	cc.lastErr = nil
	telemetry.SetBackoff(cc.backoff.Current())
	cc.transitionLocked(Active)
	return true
}

func (cc *ConnectionContext) rejectLogin(gen uint64, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if gen == cc.gen {
		cc.loginErr = err
	}
}

// detach invalidates handle gen: identity is cleared and the handle context cancelled
// in the same critical section. It returns the login rejection, if one was seen.
func (cc *ConnectionContext) detach(gen uint64) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if gen != cc.gen {
		return nil
	}
	if cc.handle != nil {
		cc.handle = nil
		cc.identity = nil
		if cc.handleCancel != nil {
			cc.handleCancel()
			cc.handleCancel = nil
		}
	}
	return cc.loginErr
}

// beginReconnect enters Reconnecting and returns the delay to wait. It is false once
// Stop has been requested.
func (cc *ConnectionContext) beginReconnect(cause error) (time.Duration, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.stopRequested {
		return 0, false
	}
	cc.lastErr = cause
	cc.transitionLocked(Reconnecting)
	d := cc.backoff.Next()
	telemetry.SetBackoff(cc.backoff.Current())
	return d, true
}

func (cc *ConnectionContext) enterConnecting() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.stopRequested {
		return false
	}
	cc.transitionLocked(Connecting)
	return true
}

// settle returns the machine to Idle and releases anyone waiting in Stop.
func (cc *ConnectionContext) settle(err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if err != nil {
		cc.lastErr = err
	}
	cc.handle = nil
	cc.identity = nil
	if cc.handleCancel != nil {
		cc.handleCancel()
		cc.handleCancel = nil
	}
	cc.runCancel = nil
	cc.transitionLocked(Idle)
	if cc.settled != nil {
		close(cc.settled)
		cc.settled = nil
	}
}

// Identity returns the logged-in identity, if any.
func (cc *ConnectionContext) Identity() (Identity, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.identity == nil {
		return Identity{}, false
	}
	return *cc.identity, true
}

// State returns the current state.
func (cc *ConnectionContext) State() State {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.state
}

func (cc *ConnectionContext) snapshot() Status {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	st := Status{
		State:          cc.state.String(),
		Running:        cc.state.Running(),
		Connected:      cc.handle != nil && cc.identity != nil,
		ReconnectDelay: cc.backoff.Current().String(),
		Since:          cc.since,
	}
	if cc.identity != nil {
		st.UserID = cc.identity.UserID.String()
		st.Username = cc.identity.Username
	}
	if cc.lastErr != nil {
		st.LastError = cc.lastErr.Error()
	}
	return st
}
