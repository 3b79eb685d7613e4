// Command enisa-bot runs the Howdies chatroom bot and its control panel.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres (optional), runs migrations and seeds the core personalities.
//   - Builds the AI responder and command processor.
//   - Runs the connection supervisor in the background; the bot stays Idle until
//     started from the panel, an uptime ping or BOT_AUTO_START=1.
//   - Serves the control panel with /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/enisa-bot/ai"
	"github.com/onnwee/enisa-bot/bot"
	"github.com/onnwee/enisa-bot/commands"
	"github.com/onnwee/enisa-bot/config"
	"github.com/onnwee/enisa-bot/db"
	"github.com/onnwee/enisa-bot/howdies"
	"github.com/onnwee/enisa-bot/server"
	"github.com/onnwee/enisa-bot/telemetry"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()
	setupLogging()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "enisa-bot",
		Short:         "Howdies chatroom bot with a web control panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot supervisor and control panel (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context())
			},
		},
		newMigrateCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
				return err
			},
		},
	)
	return root
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		return err
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		return err
	}
	if err := cfg.ValidateBotReady(); err != nil {
		// The panel still comes up; every start attempt will fail fast until fixed.
		slog.Warn("bot credentials incomplete", slog.Any("err", err))
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing(context.Background(), telemetry.TracingConfig{
		ServiceName:    "enisa-bot",
		ServiceVersion: version,
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return err
	}
	defer shutdown()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *db.Store
	if cfg.DBDsn != "" {
		database, err := openStore(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("database unavailable; AI replies and master commands disabled", slog.Any("err", err))
		} else {
			defer func() {
				if err := database.Close(); err != nil {
					slog.Error("failed to close database", slog.Any("err", err))
				}
			}()
			store = db.NewStore(database)
		}
	} else {
		slog.Info("DB_DSN not set; AI replies and master commands disabled")
	}

	procOpts := commands.Options{
		BotName:            cfg.BotUsername,
		Masters:            cfg.Masters,
		DefaultPersonality: cfg.DefaultPersonality,
	}
	srvOpts := server.Options{
		BotName:         cfg.BotUsername,
		PanelUsername:   cfg.PanelUsername,
		PanelPassword:   cfg.PanelPassword,
		PanelSessionKey: cfg.PanelSessionKey,
		UptimeSecretKey: cfg.UptimeSecretKey,
		LoginRateLimit:  cfg.LoginRateLimit,
	}
	if store != nil {
		procOpts.Store = store
		srvOpts.Store = store
		if cfg.AIAPIKey != "" {
			client := ai.NewClient(ai.ClientConfig{
				APIKey:  cfg.AIAPIKey,
				BaseURL: cfg.AIBaseURL,
				Model:   cfg.AIModel,
				Timeout: cfg.AITimeout,
			})
			procOpts.Responder = &ai.Responder{
				Store:              store,
				Completer:          client,
				BotName:            cfg.BotUsername,
				DefaultPersonality: cfg.DefaultPersonality,
				MemoryLimit:        cfg.MemoryLimit,
			}
			srvOpts.CircuitOpen = client.CircuitOpen
		} else {
			slog.Info("GROQ_API_KEY not set; AI replies disabled")
		}
	}

	header := http.Header{}
	header.Set("User-Agent", cfg.UserAgent)
	header.Set("Origin", cfg.Origin)
	acquirer := &howdies.Authenticator{LoginURL: cfg.LoginURL, Header: header, Timeout: cfg.LoginTimeout}
	dialer := bot.WSDialer{Dialer: &howdies.Dialer{}, URL: cfg.WSURL, Header: header}

	b := bot.New(bot.OptionsFromConfig(cfg), acquirer, dialer, commands.New(procOpts))
	srvOpts.Controller = b

	handler, err := server.NewMux(ctx, srvOpts)
	if err != nil {
		slog.Error("control panel setup failed", slog.Any("err", err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return server.Start(gctx, handler, cfg.HTTPAddr) })

	if cfg.AutoStart {
		slog.Info("BOT_AUTO_START=1; starting bot")
		b.RequestStart()
	}

	<-gctx.Done()
	slog.Info("shutting down")
	if err := b.RequestStop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, bot.ErrStopTimeout) {
		slog.Warn("bot stop on shutdown", slog.Any("err", err))
	}
	return g.Wait()
}

// openStore connects, migrates and seeds the database.
func openStore(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	if err := db.SeedPersonalities(ctx, db.NewStore(database)); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("seed personalities: %w", err)
	}
	return database, nil
}
