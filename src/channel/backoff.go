package channel

import (
	"time"

	"github.com/cenkalti/backoff"
)

// linearBackOff waits base, 2*base, 3*base, ... between attempts.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// newReconnectBackOff returns backoff.Stop after max attempts.
func newReconnectBackOff(base time.Duration, max int) backoff.BackOff {
	return backoff.WithMaxRetries(&linearBackOff{base: base}, uint64(max))
}
