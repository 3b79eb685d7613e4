// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required bot credentials, use ValidateBotReady.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultLoginURL  = "https://api.howdies.app/api/login"
	defaultWSURL     = "wss://app.howdies.app/"
	defaultAIBaseURL = "https://api.groq.com/openai/v1"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"
	defaultOrigin    = "https://howdies.app"
)

type Config struct {
	// Bot account
	BotUsername string   `validate:"required"`
	BotPassword string
	RoomsToJoin []string
	Masters     []string

	// Chat service endpoints
	LoginURL  string `validate:"required,url"`
	WSURL     string `validate:"required,url"`
	UserAgent string
	Origin    string

	// Connection lifecycle
	LoginTimeout          time.Duration `validate:"gt=0"`
	RoomJoinDelay         time.Duration `validate:"gte=0"`
	RejoinOnKickDelay     time.Duration `validate:"gte=0"`
	InitialReconnectDelay time.Duration `validate:"gt=0"`
	MaxReconnectDelay     time.Duration `validate:"gtefield=InitialReconnectDelay"`
	StopTimeout           time.Duration `validate:"gt=0"`
	AutoStart             bool

	// Message fan-out
	MaxInflightMessages int           `validate:"gt=0"`
	TaskQueueWait       time.Duration `validate:"gte=0"`

	// Control panel
	HTTPAddr        string `validate:"required"`
	PanelUsername   string `validate:"required"`
	PanelPassword   string `validate:"required"`
	PanelSessionKey string `validate:"required"`
	UptimeSecretKey string
	LoginRateLimit  int `validate:"gt=0"` // POST /login attempts per IP per minute

	// Database (optional; AI and master commands are disabled without it)
	DBDsn string

	// AI completion service (optional)
	AIAPIKey           string
	AIBaseURL          string `validate:"omitempty,url"`
	AIModel            string
	AITimeout          time.Duration `validate:"gt=0"`
	DefaultPersonality string        `validate:"required"`
	MemoryLimit        int           `validate:"gt=0"`

	// Tracing (optional; disabled without an endpoint)
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64 `validate:"gte=0,lte=1"`
}

// Load reads environment variables and applies defaults. It doesn't fail if the bot password is missing;
// use ValidateBotReady() before connecting. Missing optional variables disable features (e.g., AI replies).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BotUsername = envOr("BOT_USERNAME", "Enisa")
	cfg.BotPassword = os.Getenv("BOT_PASSWORD")
	cfg.RoomsToJoin = splitList(envOr("ROOMS_TO_JOIN", "life"), false)
	cfg.Masters = splitList(envOr("MASTERS_LIST", "yasin"), true)

	cfg.LoginURL = envOr("LOGIN_URL", defaultLoginURL)
	cfg.WSURL = envOr("WS_URL", defaultWSURL)
	cfg.UserAgent = envOr("BROWSER_USER_AGENT", defaultUserAgent)
	cfg.Origin = envOr("BROWSER_ORIGIN", defaultOrigin)

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"LOGIN_TIMEOUT", 15 * time.Second, &cfg.LoginTimeout},
		{"ROOM_JOIN_DELAY", 2 * time.Second, &cfg.RoomJoinDelay},
		{"REJOIN_ON_KICK_DELAY", 3 * time.Second, &cfg.RejoinOnKickDelay},
		{"INITIAL_RECONNECT_DELAY", 10 * time.Second, &cfg.InitialReconnectDelay},
		{"MAX_RECONNECT_DELAY", 300 * time.Second, &cfg.MaxReconnectDelay},
		{"STOP_TIMEOUT", 5 * time.Second, &cfg.StopTimeout},
		{"TASK_QUEUE_WAIT", 2 * time.Second, &cfg.TaskQueueWait},
		{"AI_TIMEOUT", 20 * time.Second, &cfg.AITimeout},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	cfg.AutoStart = os.Getenv("BOT_AUTO_START") == "1"

	if cfg.MaxInflightMessages, err = envInt("MAX_INFLIGHT_MESSAGES", 32); err != nil {
		return nil, err
	}

	// Panel
	cfg.HTTPAddr = envOr("HTTP_ADDR", ":"+envOr("PORT", "5000"))
	cfg.PanelUsername = envOr("PANEL_USERNAME", "admin")
	cfg.PanelPassword = envOr("PANEL_PASSWORD", "password")
	cfg.PanelSessionKey = envOr("PANEL_SESSION_KEY", "a-very-secret-panel-key")
	cfg.UptimeSecretKey = os.Getenv("UPTIME_SECRET_KEY")
	if cfg.LoginRateLimit, err = envInt("LOGIN_RATE_LIMIT", 10); err != nil {
		return nil, err
	}

	// DB
	cfg.DBDsn = os.Getenv("DB_DSN")

	// AI
	cfg.AIAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.AIBaseURL = envOr("AI_BASE_URL", defaultAIBaseURL)
	cfg.AIModel = envOr("AI_MODEL", "llama3-8b-8192")
	cfg.DefaultPersonality = strings.ToLower(envOr("DEFAULT_PERSONALITY", "tsundere"))
	if cfg.MemoryLimit, err = envInt("MEMORY_LIMIT", 10); err != nil {
		return nil, err
	}

	// Tracing
	cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTelInsecure = envBool("OTEL_INSECURE")
	if cfg.OTelSampleRatio, err = envFloat("OTEL_SAMPLE_RATIO", 1.0); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints (URLs, positive durations, delay ordering).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ValidateBotReady checks required fields before the bot may connect.
// A missing password is a misconfiguration an operator has to fix; it is never retried.
func (c *Config) ValidateBotReady() error {
	if c.BotUsername == "" || c.BotPassword == "" {
		return fmt.Errorf("missing bot env: require BOT_USERNAME, BOT_PASSWORD")
	}
	return nil
}

// AIEnabled reports whether both the store and the completion service are configured.
func (c *Config) AIEnabled() bool { return c.DBDsn != "" && c.AIAPIKey != "" }

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envDuration accepts Go durations ("10s") or bare integers meaning seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (int): %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (float): %w", key, err)
	}
	return f, nil
}

// envBool treats 1, true, yes and on as set.
func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// splitList splits a comma separated list, trimming blanks.
func splitList(s string, lower bool) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return out
}
