package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/enisa-bot/config"
	"github.com/onnwee/enisa-bot/howdies"
	"github.com/onnwee/enisa-bot/telemetry"
)

// Options configures a Bot.
type Options struct {
	Username string
	Password string
	Rooms    []string // startup rooms, joined in order after login

	SettleDelay time.Duration // before the first startup join
	JoinDelay   time.Duration // before every startup join
	RejoinDelay time.Duration // after a kick from a startup room

	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	StopTimeout time.Duration

	MaxInflight int
	QueueWait   time.Duration

	Clock clockwork.Clock // defaults to the real clock
}

// OptionsFromConfig maps the loaded configuration onto bot options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Username:    cfg.BotUsername,
		Password:    cfg.BotPassword,
		Rooms:       cfg.RoomsToJoin,
		SettleDelay: time.Second,
		JoinDelay:   cfg.RoomJoinDelay,
		RejoinDelay: cfg.RejoinOnKickDelay,
		MinBackoff:  cfg.InitialReconnectDelay,
		MaxBackoff:  cfg.MaxReconnectDelay,
		StopTimeout: cfg.StopTimeout,
		MaxInflight: cfg.MaxInflightMessages,
		QueueWait:   cfg.TaskQueueWait,
	}
}

// Bot is the connection state machine. Run is its supervisor loop; RequestStart,
// RequestStop and Status form the control plane and are safe to call from any goroutine.
type Bot struct {
	opts      Options
	clock     clockwork.Clock
	acquirer  SessionAcquirer
	dialer    Dialer
	processor CommandProcessor

	cc      *ConnectionContext
	rooms   *RoomTracker
	workers *WorkerPool
	startCh chan struct{}
}

// New builds an idle Bot. processor may be nil, in which case chat messages are ignored.
func New(opts Options, acquirer SessionAcquirer, dialer Dialer, processor CommandProcessor) *Bot {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 32
	}
	return &Bot{
		opts:      opts,
		clock:     clock,
		acquirer:  acquirer,
		dialer:    dialer,
		processor: processor,
		cc:        newConnectionContext(clock, NewBackoff(opts.MinBackoff, opts.MaxBackoff)),
		rooms:     NewRoomTracker(clock, opts.Rooms, opts.SettleDelay, opts.JoinDelay, opts.RejoinDelay),
		workers:   NewWorkerPool(opts.MaxInflight, opts.QueueWait),
		startCh:   make(chan struct{}, 1),
	}
}

// Run waits for Start requests and drives each session until it settles back to
// Idle. It returns when ctx is done, after any live handle has been closed.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("bot: supervisor started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("bot: supervisor stopped")
			return nil
		case <-b.startCh:
		}
		b.runSession(ctx)
	}
}

// runSession loops connect attempts until a fatal error, Stop, or ctx cancellation.
func (b *Bot) runSession(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !b.cc.beginRun(cancel) {
		b.cc.settle(nil)
		slog.Info("bot: stopped before connecting")
		return
	}

	var err error
	class := ErrorClassNone
	for attempt := 1; ; attempt++ {
		err = b.connectOnce(runCtx, attempt)
		if b.cc.stopping() || runCtx.Err() != nil {
			err = nil
			break
		}
		class = Classify(err)
		var ae *howdies.AuthError
		if attempt == 1 && errors.As(err, &ae) {
			// a Start whose first session exchange fails goes straight back to Idle
			class = ErrorClassFatal
		}
		if class != ErrorClassRetryable {
			break
		}
		delay, ok := b.cc.beginReconnect(err)
		if !ok {
			err = nil
			break
		}
		telemetry.IncReconnects()
		slog.Warn("bot: connection lost; reconnecting", slog.Duration("delay", delay), slog.Any("err", err))
		select {
		case <-b.clock.After(delay):
		case <-runCtx.Done():
		}
		if !b.cc.enterConnecting() {
			err = nil
			break
		}
	}

	if err != nil {
		slog.Error("bot: giving up until next start", slog.String("class", class.String()), slog.Any("err", err))
	}
	b.rooms.Reset()
	b.cc.settle(err)
	slog.Info("bot: idle")
}

// connectOnce acquires a session, opens one handle and blocks until it is gone.
// A nil return means the attempt was abandoned because of Stop.
func (b *Bot) connectOnce(ctx context.Context, attempt int) error {
	spanCtx, span := telemetry.StartConnectSpan(ctx, b.opts.Username, attempt)
	sess, err := b.acquirer.Acquire(spanCtx, b.opts.Username, b.opts.Password)
	if err != nil {
		telemetry.EndConnectSpan(span, Classify(err).String(), err)
		return err
	}
	conn, err := b.dialer.Dial(spanCtx, sess)
	if err != nil {
		telemetry.EndConnectSpan(span, Classify(err).String(), err)
		return err
	}
	gen, handleCtx, ok := b.cc.attach(ctx, conn)
	if !ok {
		_ = conn.Close()
		telemetry.EndConnectSpan(span, "abandoned", nil)
		return nil
	}
	telemetry.EndConnectSpan(span, "connected", nil)
	conn.Listen(newDispatcher(handleCtx, b, gen, conn, sess.Token))

	select {
	case <-conn.Done():
	case <-ctx.Done():
		_ = conn.Close()
		<-conn.Done()
	}
	if err := b.cc.detach(gen); err != nil {
		return err
	}
	code, reason := conn.CloseStatus()
	return &howdies.TransportError{Op: "read", Code: code, Reason: reason}
}
