package endpoint

import (
	"time"

	"github.com/wagiedev/stdiomux/internal/config"
)

// Backoff computes reconnect delays.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// NewBackoff converts configuration into a Backoff.
func NewBackoff(cfg config.BackoffConfig) Backoff {
	return Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay, MaxAttempts: cfg.MaxAttempts}
}

// Delay returns min(Base * 2^n, Max).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base

	for range n {
		if d > b.Max/2 {
			return b.Max
		}

		d *= 2
	}

	return min(d, b.Max)
}

// Exhausted reports whether n failed cycles use up the allowance.
func (b Backoff) Exhausted(n int) bool {
	return n >= b.MaxAttempts
}
