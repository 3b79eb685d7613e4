package server

import (
	"github.com/onnwee/enisa-bot/crypto"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	opts     Options
	sessions *crypto.SessionSealer
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(opts Options, sessions *crypto.SessionSealer) *Handlers {
	return &Handlers{opts: opts, sessions: sessions}
}
