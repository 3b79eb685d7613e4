// Package ai produces persona replies through an OpenAI-compatible chat completion API.
package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/onnwee/enisa-bot/db"
	"github.com/onnwee/enisa-bot/telemetry"
)

// Completer turns a system prompt plus conversation into the next assistant message.
type Completer interface {
	Complete(ctx context.Context, system string, turns []db.Turn) (string, error)
}

// ClientConfig configures Client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration // per request, defaults to 20s

	// breaker
	MaxFailures int           // consecutive failures before opening, defaults to 5
	OpenFor     time.Duration // time spent open before a trial call, defaults to 60s
}

// Client calls the completion API behind a circuit breaker.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewClient builds a completion client.
func NewClient(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 60 * time.Second
	}
	maxFailures := uint32(cfg.MaxFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-completion",
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= maxFailures },
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.UpdateCircuitGauge(to == gobreaker.StateOpen)
			slog.Warn("ai: circuit breaker state changed", slog.String("name", name),
				slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		cb:      cb,
	}
}

// Complete sends one chat completion request and returns the trimmed reply.
func (c *Client) Complete(ctx context.Context, system string, turns []db.Turn) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "ai", "completion", telemetry.AttrString("ai.model", c.model))
	defer span.End()

	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}

	var reply string
	var err error
	telemetry.TimeFunc(telemetry.AIDuration, func() {
		var out any
		out, err = c.cb.Execute(func() (any, error) {
			reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			resp, err := c.api.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
				Model:    c.model,
				Messages: msgs,
			})
			if err != nil {
				return nil, err
			}
			if len(resp.Choices) == 0 {
				return nil, errors.New("completion returned no choices")
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		})
		if err == nil {
			reply, _ = out.(string)
		}
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		telemetry.ObserveAIRequest("circuit_open")
	case err != nil:
		telemetry.ObserveAIRequest("error")
	default:
		telemetry.ObserveAIRequest("ok")
	}
	telemetry.SetSpanResult(span, err)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// CircuitOpen reports whether the breaker is currently rejecting calls.
func (c *Client) CircuitOpen() bool { return c.cb.State() == gobreaker.StateOpen }
