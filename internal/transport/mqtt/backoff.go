package mqtt

import (
	"math/rand/v2"
	"time"
)

const (
	// The first retry waits about 2^minExponent milliseconds.
	minExponent = 6
	maxExponent = 32
)

// backoff returns the delay before reconnect attempt n (0-based): an
// exponential interval capped at limit, with full jitter over its upper half.
func backoff(n int, limit time.Duration) time.Duration {
	exp := min(n+minExponent, maxExponent)
	d := min(time.Duration(1<<exp)*time.Millisecond, limit)
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half)
}
