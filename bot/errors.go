package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/onnwee/enisa-bot/howdies"
)

// ErrStopTimeout is returned by RequestStop when the machine did not settle in time.
// The stop still proceeds in the background.
var ErrStopTimeout = errors.New("bot did not stop within timeout")

// ErrorClass represents whether a failed connection attempt should be retried.
type ErrorClass int

const (
	// ErrorClassRetryable schedules a reconnect with backoff.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal returns the machine to Idle until the next Start.
	ErrorClassFatal
	// ErrorClassNone means there was no error (deliberate close).
	ErrorClassNone
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	case ErrorClassNone:
		return "none"
	default:
		return "unknown"
	}
}

// Classify maps a connection-attempt error to its recovery class.
//
// Fatal:
// - missing credentials, a missing token, 4xx answers and rejected logins (*howdies.AuthError)
// - cancellation of the run context (Stop or shutdown)
//
// Retryable:
// - dial failures and unexpected closes (*howdies.TransportError)
// - session acquisition that failed on the network or with a 5xx answer
// - anything else that looks like a network hiccup
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}
	var ae *howdies.AuthError
	if errors.As(err, &ae) {
		return classifyAuth(ae)
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}
	var te *howdies.TransportError
	if errors.As(err, &te) {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"unauthorized", "forbidden", "invalid credentials"} {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}
	// unknown errors are retried so a transient fault never parks the bot
	return ErrorClassRetryable
}

func classifyAuth(ae *howdies.AuthError) ErrorClass {
	switch ae.Reason {
	case howdies.ReasonNetwork:
		return ErrorClassRetryable
	case howdies.ReasonHTTPStatus:
		if ae.Status >= 500 {
			return ErrorClassRetryable
		}
	}
	return ErrorClassFatal
}
