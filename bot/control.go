package bot

import (
	"context"
	"log/slog"
	"time"
)

// Status is a point-in-time view of the machine for the control panel.
type Status struct {
	State          string            `json:"state"`
	Running        bool              `json:"running"`
	Connected      bool              `json:"connected"`
	UserID         string            `json:"user_id,omitempty"`
	Username       string            `json:"username,omitempty"`
	Rooms          map[string]string `json:"rooms"`
	ReconnectDelay string            `json:"reconnect_delay"`
	Inflight       int               `json:"inflight"`
	LastError      string            `json:"last_error,omitempty"`
	Since          time.Time         `json:"since"`
}

// RequestStart begins connecting if the machine is Idle. It reports whether a start
// was actually requested; calls in any other state are no-ops.
func (b *Bot) RequestStart() bool {
	if !b.cc.beginStart() {
		slog.Debug("bot: start ignored; already running")
		return false
	}
	select {
	case b.startCh <- struct{}{}:
	default:
	}
	slog.Info("bot: start requested")
	return true
}

// RequestStop raises the Stop flag, closes any live handle and waits for the machine
// to settle in Idle. It returns ErrStopTimeout if that takes longer than the stop
// timeout; the stop still completes in the background.
func (b *Bot) RequestStop(ctx context.Context) error {
	settled, handle := b.cc.requestStop()
	if settled == nil {
		return nil
	}
	slog.Info("bot: stop requested")
	if handle != nil {
		_ = handle.Close()
	}
	select {
	case <-settled:
		return nil
	case <-b.clock.After(b.opts.StopTimeout):
		slog.Warn("bot: stop timed out", slog.Duration("timeout", b.opts.StopTimeout))
		return ErrStopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the machine.
func (b *Bot) Status() Status {
	st := b.cc.snapshot()
	st.Rooms = b.rooms.Rooms()
	st.Inflight = b.workers.Inflight()
	return st
}

// State returns the current machine state.
func (b *Bot) State() State { return b.cc.State() }
