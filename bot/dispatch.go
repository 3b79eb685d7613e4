package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/onnwee/enisa-bot/howdies"
	"github.com/onnwee/enisa-bot/telemetry"
)

// Outbox is what a command processor may do on the connection a message arrived on.
type Outbox interface {
	Say(roomID howdies.ID, text string) error
	Join(name string) error
	Identity() (Identity, bool)
}

// CommandProcessor handles one chat message. It runs on a worker goroutine and
// must not retain out after returning.
type CommandProcessor interface {
	Process(ctx context.Context, out Outbox, msg howdies.ChatMessage) error
}

// Dispatcher routes the inbound frames of one handle. It is also the handle's
// howdies.Listener and the Outbox given to command processing.
type Dispatcher struct {
	b     *Bot
	gen   uint64
	conn  Connection
	token string
	ctx   context.Context // cancelled when the handle is invalidated
}

func newDispatcher(ctx context.Context, b *Bot, gen uint64, conn Connection, token string) *Dispatcher {
	return &Dispatcher{b: b, gen: gen, conn: conn, token: token, ctx: ctx}
}

// OnOpen sends the login frame.
func (d *Dispatcher) OnOpen() {
	if !d.b.cc.enterLoggingIn(d.gen) {
		return
	}
	slog.Info("bot: connected; logging in", slog.String("user", d.b.opts.Username))
	if err := d.send(howdies.NewLogin(d.b.opts.Username, d.b.opts.Password, d.token)); err != nil {
		slog.Error("bot: login send failed; dropping connection", slog.Any("err", err))
		_ = d.conn.Close()
	}
}

func (d *Dispatcher) OnMessage(raw []byte) { d.Dispatch(raw) }

func (d *Dispatcher) OnError(err error) {
	slog.Error("bot: transport error", slog.Any("err", err))
}

func (d *Dispatcher) OnClose(code int, reason string) {
	slog.Info("bot: connection closed", slog.Int("code", code), slog.String("reason", reason))
	_ = d.b.cc.detach(d.gen)
}

// Dispatch decodes one frame and routes it. Frames from a stale handle or arriving
// after Stop are ignored.
func (d *Dispatcher) Dispatch(raw []byte) {
	if !d.b.cc.current(d.gen) {
		telemetry.ObserveDroppedFrame("stale")
		return
	}
	f, err := howdies.ParseFrame(raw)
	if err != nil {
		var pe *howdies.ParseError
		if errors.As(err, &pe) && errors.Is(err, howdies.ErrUnknownHandler) {
			slog.Debug("bot: unhandled frame", slog.String("handler", pe.Handler))
		} else {
			slog.Warn("bot: dropping malformed frame", slog.Any("err", err))
		}
		telemetry.ObserveDroppedFrame("parse")
		return
	}

	switch v := f.(type) {
	case howdies.Heartbeat:
		return
	case howdies.LoginResult:
		telemetry.ObserveFrame(howdies.HandlerLogin)
		d.onLogin(v)
	case howdies.JoinResult:
		telemetry.ObserveFrame(howdies.HandlerJoinRoom)
		if !v.OK() {
			slog.Warn("bot: join refused", slog.String("room", v.Name), slog.String("room_id", v.RoomID.String()))
			return
		}
		d.b.rooms.OnJoinConfirmed(v.RoomID, v.Name)
	case howdies.KickNotice:
		telemetry.ObserveFrame(howdies.HandlerUserKicked)
		if id, ok := d.b.cc.Identity(); ok && v.UserID.Same(id.UserID) {
			d.b.rooms.OnKicked(d.ctx, JoinerFunc(d.sendJoin), v.RoomID)
		}
	case howdies.ChatMessage:
		telemetry.ObserveFrame(howdies.HandlerRoomMessage)
		d.onChat(v)
	}
}

func (d *Dispatcher) onLogin(v howdies.LoginResult) {
	if !v.OK() {
		err := &howdies.AuthError{Reason: howdies.ReasonLoginRejected, Body: v.Status}
		telemetry.ObserveAuthFailure(string(err.Reason))
		slog.Error("bot: login rejected", slog.String("status", v.Status))
		d.b.cc.rejectLogin(d.gen, err)
		_ = d.conn.Close()
		return
	}
	if !d.b.cc.loginSucceeded(d.gen, Identity{UserID: v.UserID, Username: d.b.opts.Username}) {
		return
	}
	d.b.rooms.Reset()
	slog.Info("bot: logged in", slog.String("user", d.b.opts.Username), slog.String("user_id", v.UserID.String()))
	go d.b.rooms.JoinAll(d.ctx, JoinerFunc(d.sendJoin), d.b.opts.Rooms)
}

func (d *Dispatcher) onChat(msg howdies.ChatMessage) {
	if d.isSelf(msg) {
		return
	}
	if d.b.processor == nil {
		return
	}
	corr := uuid.NewString()
	taskCtx := telemetry.WithCorrelation(context.Background(), corr)
	ok := d.b.workers.Submit(d.ctx, taskCtx, func(ctx context.Context) {
		if err := d.b.processor.Process(ctx, d, msg); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("bot: command failed",
				slog.String("room_id", msg.RoomID.String()), slog.String("from", msg.Username), slog.Any("err", err))
		}
	})
	if !ok {
		slog.Warn("bot: worker pool saturated; message dropped",
			slog.String("room_id", msg.RoomID.String()), slog.String("from", msg.Username))
	}
}

func (d *Dispatcher) isSelf(msg howdies.ChatMessage) bool {
	id, ok := d.b.cc.Identity()
	if !ok {
		return false
	}
	if !msg.UserID.IsZero() && !id.UserID.IsZero() {
		return msg.UserID.Same(id.UserID)
	}
	return strings.EqualFold(msg.Username, id.Username)
}

func (d *Dispatcher) send(v any) error {
	err := d.conn.Send(v)
	if err != nil {
		var se *howdies.SendError
		if errors.As(err, &se) {
			telemetry.ObserveSendError(se.Handler)
		}
		slog.Warn("bot: send failed", slog.Any("err", err))
	}
	return err
}

// Say sends a text message to a room.
func (d *Dispatcher) Say(roomID howdies.ID, text string) error {
	return d.send(howdies.NewRoomMessage(roomID, text))
}

// Join asks the room tracker to join a room on this handle.
func (d *Dispatcher) Join(name string) error {
	return d.b.rooms.Join(JoinerFunc(d.sendJoin), name)
}

func (d *Dispatcher) sendJoin(name string) error {
	slog.Info("bot: joining room", slog.String("room", name))
	return d.send(howdies.NewJoinRoom(name))
}

// Identity returns the bot's identity on the current handle.
func (d *Dispatcher) Identity() (Identity, bool) { return d.b.cc.Identity() }
