package feed

import (
	"math/rand/v2"
	"time"
)

// Backoff computes jittered exponential reconnect delays. It is plain data so
// the schedule can be tested without a network or a clock.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

// Next returns the delay before the next attempt and advances the schedule.
// The raw delay doubles per attempt up to Max; jitter spreads the result over
// [0.5x, 1.5x) to avoid thundering-herd reconnects.
func (b *Backoff) Next() time.Duration {
	raw := b.Base
	for i := 0; i < b.attempt; i++ {
		raw *= 2
		if raw >= b.Max {
			raw = b.Max
			break
		}
	}
	b.attempt++

	// Jitter: raw * (0.5 to 1.5)
	return raw/2 + time.Duration(rand.Int64N(int64(raw)))
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Reset restarts the schedule after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}
