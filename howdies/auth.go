package howdies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/enisa-bot/telemetry"
)

// Session is a short-lived token for exactly one connection attempt. It is never persisted.
type Session struct {
	Token string
	Owner string
}

// Authenticator exchanges bot credentials for a session token.
type Authenticator struct {
	LoginURL   string
	Header     http.Header // browser-like headers (User-Agent, Origin)
	HTTPClient *http.Client
	Timeout    time.Duration // defaults to 15s
}

// Acquire performs one synchronous login request. Every failure is an *AuthError.
func (a *Authenticator) Acquire(ctx context.Context, username, password string) (Session, error) {
	if username == "" || password == "" {
		return Session{}, &AuthError{Reason: ReasonMissingCredentials}
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "howdies", "session.acquire", telemetry.AttrString("howdies.user", username))
	defer span.End()

	sess, err := a.do(ctx, username, password)
	if err != nil {
		telemetry.SetSpanResult(span, err)
		var ae *AuthError
		if errors.As(err, &ae) {
			telemetry.ObserveAuthFailure(string(ae.Reason))
		}
		return Session{}, err
	}
	telemetry.SetSpanResult(span, nil)
	return sess, nil
}

func (a *Authenticator) do(ctx context.Context, username, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return Session{}, &AuthError{Reason: ReasonNetwork, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.LoginURL, bytes.NewReader(body))
	if err != nil {
		return Session{}, &AuthError{Reason: ReasonNetwork, Err: err}
	}
	for k, vs := range a.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	hc := a.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Session{}, &AuthError{Reason: ReasonNetwork, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Session{}, &AuthError{Reason: ReasonNetwork, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Session{}, &AuthError{Reason: ReasonHTTPStatus, Status: resp.StatusCode, Body: snippet(raw)}
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, &AuthError{Reason: ReasonMissingToken, Body: snippet(raw), Err: err}
	}
	if strings.TrimSpace(out.Token) == "" {
		return Session{}, &AuthError{Reason: ReasonMissingToken, Body: snippet(raw)}
	}
	return Session{Token: out.Token, Owner: username}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
