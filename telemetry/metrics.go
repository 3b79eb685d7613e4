// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	Reconnects     prometheus.Counter
	TasksRejected  prometheus.Counter
	FramesReceived *prometheus.CounterVec // by handler
	FramesDropped  *prometheus.CounterVec // by reason
	SendErrors     *prometheus.CounterVec // by handler
	AuthFailures   *prometheus.CounterVec // by reason
	AIRequests     *prometheus.CounterVec // by result

	// Histograms (seconds)
	AIDuration prometheus.Observer

	// Gauges
	ConnectedGauge   prometheus.Gauge
	BackoffGauge     prometheus.Gauge
	TasksInflight    prometheus.Gauge
	BotStateGauge    *prometheus.GaugeVec
	CircuitOpenGauge prometheus.Gauge // 1=open,0=closed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "enisa_bot_reconnects_total", Help: "Number of reconnect attempts after an unexpected close"})
		TasksRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "enisa_bot_tasks_rejected_total", Help: "Chat messages dropped because the worker pool stayed saturated"})
		FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "enisa_bot_frames_received_total", Help: "Inbound frames dispatched, by handler"}, []string{"handler"})
		FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "enisa_bot_frames_dropped_total", Help: "Inbound frames dropped, by reason"}, []string{"reason"})
		SendErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "enisa_bot_send_errors_total", Help: "Outbound frames that failed to send, by handler"}, []string{"handler"})
		AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "enisa_bot_auth_failures_total", Help: "Session acquisition or login failures, by reason"}, []string{"reason"})
		AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "enisa_ai_requests_total", Help: "AI completion requests, by result"}, []string{"result"})
		AIDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "enisa_ai_request_duration_seconds", Help: "AI completion latency seconds", Buckets: prometheus.DefBuckets})
		ConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "enisa_bot_connected", Help: "1 while logged in to the chat service"})
		BackoffGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "enisa_bot_backoff_seconds", Help: "Current reconnect delay"})
		TasksInflight = promauto.NewGauge(prometheus.GaugeOpts{Name: "enisa_bot_tasks_inflight", Help: "Chat messages currently being processed"})
		BotStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "enisa_bot_state", Help: "Connection state machine state (1 for the current state)"}, []string{"state"})
		CircuitOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "enisa_ai_circuit_open", Help: "AI circuit breaker open=1 closed=0"})
	})
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if CircuitOpenGauge == nil {
		return
	}
	if open {
		CircuitOpenGauge.Set(1)
	} else {
		CircuitOpenGauge.Set(0)
	}
}

// SetBotState marks state as the only active state.
func SetBotState(state string, connected bool) {
	if BotStateGauge != nil {
		BotStateGauge.Reset()
		BotStateGauge.WithLabelValues(state).Set(1)
	}
	if ConnectedGauge != nil {
		if connected {
			ConnectedGauge.Set(1)
		} else {
			ConnectedGauge.Set(0)
		}
	}
}

func SetBackoff(d time.Duration) {
	if BackoffGauge != nil {
		BackoffGauge.Set(d.Seconds())
	}
}

func IncReconnects() {
	if Reconnects != nil {
		Reconnects.Inc()
	}
}

func ObserveFrame(handler string) {
	if FramesReceived != nil {
		FramesReceived.WithLabelValues(handler).Inc()
	}
}

func ObserveDroppedFrame(reason string) {
	if FramesDropped != nil {
		FramesDropped.WithLabelValues(reason).Inc()
	}
}

func ObserveSendError(handler string) {
	if SendErrors != nil {
		SendErrors.WithLabelValues(handler).Inc()
	}
}

func ObserveAuthFailure(reason string) {
	if AuthFailures != nil {
		AuthFailures.WithLabelValues(reason).Inc()
	}
}

func ObserveAIRequest(result string) {
	if AIRequests != nil {
		AIRequests.WithLabelValues(result).Inc()
	}
}

// AddInflight adjusts the in-flight task gauge by delta.
func AddInflight(delta int) {
	if TasksInflight != nil {
		TasksInflight.Add(float64(delta))
	}
}

func IncTasksRejected() {
	if TasksRejected != nil {
		TasksRejected.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
