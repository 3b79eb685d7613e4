// Package server exposes the control panel: login, dashboard, start/stop, status,
// health and metrics. Every request gets a correlation id and a tracing span.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/enisa-bot/bot"
	"github.com/onnwee/enisa-bot/crypto"
	"github.com/onnwee/enisa-bot/telemetry"
)

// Controller is the bot surface the panel drives. *bot.Bot implements it.
type Controller interface {
	RequestStart() bool
	RequestStop(ctx context.Context) error
	Status() bot.Status
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures NewMux.
type Options struct {
	Controller Controller
	BotName    string

	PanelUsername   string
	PanelPassword   string
	PanelSessionKey string
	UptimeSecretKey string
	SessionTTL      time.Duration // defaults to 12h

	LoginRateLimit int // POST /login attempts per IP per minute, defaults to 10

	// Optional readiness checks.
	Store       Pinger
	CircuitOpen func() bool
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, opts Options) (http.Handler, error) {
	if opts.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	enc, err := crypto.NewAESEncryptor(opts.PanelSessionKey)
	if err != nil {
		return nil, fmt.Errorf("server: session key: %w", err)
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.LoginRateLimit <= 0 {
		opts.LoginRateLimit = 10
	}

	h := NewHandlers(opts, &crypto.SessionSealer{Enc: enc, TTL: opts.SessionTTL})
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: opts.LoginRateLimit, window: time.Minute})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)

	mux.Handle("/login", loginRateLimit(http.HandlerFunc(h.HandleLogin), limiter))
	mux.HandleFunc("/logout", h.HandleLogout)
	mux.HandleFunc("/start", h.HandleStart)
	mux.Handle("/stop", h.requireSession(http.HandlerFunc(h.HandleStop)))
	mux.Handle("/{$}", h.requireSession(http.HandlerFunc(h.HandleDashboard)))

	return withCorrelation(mux), nil
}

// withCorrelation injects a correlation id and wraps the request in a span.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, handler http.Handler, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
