package bot

import "time"

// Backoff is the reconnect delay. It is not safe for concurrent use; the
// ConnectionContext guards it.
type Backoff struct {
	Min, Max time.Duration
	current  time.Duration
}

// NewBackoff returns a Backoff starting at min. max below min is raised to min.
func NewBackoff(min, max time.Duration) Backoff {
	if max < min {
		max = min
	}
	return Backoff{Min: min, Max: max, current: min}
}

// Current is the delay the next reconnect will wait.
func (b *Backoff) Current() time.Duration { return b.current }

// Next returns the delay to wait now and doubles the stored delay, capped at Max.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := b.current * 2
	if next > b.Max || next < b.current {
		next = b.Max
	}
	b.current = next
	return d
}

// Reset puts the delay back to Min.
func (b *Backoff) Reset() { b.current = b.Min }
