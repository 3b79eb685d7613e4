package ai

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means the responder has no store or no completion client.
var ErrNotConfigured = errors.New("ai replies not configured")

// CollaboratorError is a failure of the store or the completion service while
// answering one message. It never affects the connection.
type CollaboratorError struct {
	Op  string // "store", "completion" or "config"
	Err error
}

func (e *CollaboratorError) Error() string { return fmt.Sprintf("ai %s: %v", e.Op, e.Err) }
func (e *CollaboratorError) Unwrap() error { return e.Err }
