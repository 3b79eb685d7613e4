package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ROOMS_TO_JOIN", "")
	t.Setenv("INITIAL_RECONNECT_DELAY", "")
	t.Setenv("MAX_RECONNECT_DELAY", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := strings.Join(cfg.RoomsToJoin, ","); got != "life" {
		t.Errorf("RoomsToJoin = %q, want life", got)
	}
	if cfg.InitialReconnectDelay != 10*time.Second {
		t.Errorf("InitialReconnectDelay = %v, want 10s", cfg.InitialReconnectDelay)
	}
	if cfg.MaxReconnectDelay != 300*time.Second {
		t.Errorf("MaxReconnectDelay = %v, want 300s", cfg.MaxReconnectDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadParsesListsAndDurations(t *testing.T) {
	t.Setenv("ROOMS_TO_JOIN", " life, test ,,")
	t.Setenv("MASTERS_LIST", "Yasin,BOB ")
	t.Setenv("ROOM_JOIN_DELAY", "1500ms")
	t.Setenv("REJOIN_ON_KICK_DELAY", "7")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := strings.Join(cfg.RoomsToJoin, "|"); got != "life|test" {
		t.Errorf("RoomsToJoin = %q", got)
	}
	if got := strings.Join(cfg.Masters, "|"); got != "yasin|bob" {
		t.Errorf("Masters = %q", got)
	}
	if cfg.RoomJoinDelay != 1500*time.Millisecond {
		t.Errorf("RoomJoinDelay = %v", cfg.RoomJoinDelay)
	}
	if cfg.RejoinOnKickDelay != 7*time.Second {
		t.Errorf("RejoinOnKickDelay = %v", cfg.RejoinOnKickDelay)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("STOP_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid STOP_TIMEOUT")
	}
}

func TestValidateDelayOrdering(t *testing.T) {
	t.Setenv("INITIAL_RECONNECT_DELAY", "60s")
	t.Setenv("MAX_RECONNECT_DELAY", "10s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "MaxReconnectDelay") {
		t.Errorf("expected MaxReconnectDelay validation error, got %v", err)
	}
}

func TestValidateBotReady(t *testing.T) {
	t.Setenv("BOT_USERNAME", "Enisa")
	t.Setenv("BOT_PASSWORD", "hunter2")
	cfg, _ := Load()
	if err := cfg.ValidateBotReady(); err != nil {
		t.Errorf("expected valid bot config, got %v", err)
	}
	if err := os.Unsetenv("BOT_PASSWORD"); err != nil {
		t.Fatalf("failed to unset BOT_PASSWORD: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateBotReady(); err == nil {
		t.Errorf("expected error when BOT_PASSWORD missing")
	}
}

func TestAIEnabled(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://x")
	t.Setenv("GROQ_API_KEY", "")
	cfg, _ := Load()
	if cfg.AIEnabled() {
		t.Error("AI should be disabled without an API key")
	}
	t.Setenv("GROQ_API_KEY", "k")
	cfg, _ = Load()
	if !cfg.AIEnabled() {
		t.Error("AI should be enabled with DSN and key")
	}
}

func TestLoadTracingSettings(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_INSECURE", "")
	t.Setenv("OTEL_SAMPLE_RATIO", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OTelEndpoint != "" || cfg.OTelInsecure {
		t.Errorf("tracing should default off, got endpoint=%q insecure=%v", cfg.OTelEndpoint, cfg.OTelInsecure)
	}
	if cfg.OTelSampleRatio != 1.0 {
		t.Errorf("OTelSampleRatio = %v, want 1", cfg.OTelSampleRatio)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_INSECURE", "true")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.25")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OTelEndpoint != "collector:4317" || !cfg.OTelInsecure || cfg.OTelSampleRatio != 0.25 {
		t.Errorf("tracing settings = %q %v %v", cfg.OTelEndpoint, cfg.OTelInsecure, cfg.OTelSampleRatio)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidateSampleRatioRange(t *testing.T) {
	t.Setenv("OTEL_SAMPLE_RATIO", "1.5")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "OTelSampleRatio") {
		t.Errorf("expected OTelSampleRatio validation error, got %v", err)
	}

	t.Setenv("OTEL_SAMPLE_RATIO", "most")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid OTEL_SAMPLE_RATIO")
	}
}
