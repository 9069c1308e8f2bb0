package queue

import (
	"math/rand"
	"time"
)

// jitterFraction spreads retries of concurrently failing jobs apart.
const jitterFraction = 0.2

// computeBackoff returns the delay before a job's next attempt:
// max(base, base * 2^attempts * (1 +/- 20% jitter)). The result never drops
// below base, so successive expected delays are non-decreasing.
func computeBackoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	// Cap the shift so the multiplication cannot overflow.
	if attempts > 20 {
		attempts = 20
	}

	delay := float64(base) * float64(uint64(1)<<uint(attempts))
	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	delay *= jitter

	if delay < float64(base) {
		return base
	}
	return time.Duration(delay)
}
