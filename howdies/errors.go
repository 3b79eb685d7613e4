package howdies

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send on a closed or never-opened connection.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrUnknownHandler marks frames whose handler this client does not understand.
	ErrUnknownHandler = errors.New("unknown frame handler")
)

// AuthReason says why a session token could not be acquired.
type AuthReason string

const (
	ReasonMissingCredentials AuthReason = "missing-credentials"
	ReasonNetwork            AuthReason = "network"
	ReasonHTTPStatus         AuthReason = "http-status"
	ReasonMissingToken       AuthReason = "missing-token"
	ReasonLoginRejected      AuthReason = "login-rejected"
)

// AuthError is a session acquisition or login failure. It is never retried automatically.
type AuthError struct {
	Reason AuthReason
	Status int    // HTTP status for ReasonHTTPStatus
	Body   string // response snippet, if any
	Err    error
}

func (e *AuthError) Error() string {
	switch e.Reason {
	case ReasonHTTPStatus:
		return fmt.Sprintf("auth failed: %s %d: %s", e.Reason, e.Status, e.Body)
	case ReasonMissingToken, ReasonLoginRejected:
		if e.Body != "" {
			return fmt.Sprintf("auth failed: %s: %s", e.Reason, e.Body)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("auth failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError describes a dial failure or an unexpected connection close.
type TransportError struct {
	Op     string // "dial" or "read"
	Code   int
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport %s: closed %d %s", e.Op, e.Code, e.Reason)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SendError is an outbound frame that could not be written.
type SendError struct {
	Handler string
	Err     error
}

func (e *SendError) Error() string { return fmt.Sprintf("send %s: %v", e.Handler, e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// ParseError is a malformed or unrecognized inbound frame.
type ParseError struct {
	Handler string
	Raw     string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Handler != "" {
		return fmt.Sprintf("parse %q frame: %v", e.Handler, e.Err)
	}
	return fmt.Sprintf("parse frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
