// Package backoff computes exponential reconnect delays.
package backoff

import "time"

// Delay returns min * 2^attempt, capped at max.
// Negative attempts count as zero. The doubling stops as soon as the cap is
// reached, so large attempt values never overflow.
func Delay(attempt int, min, max time.Duration) time.Duration {
	if min <= 0 {
		return 0
	}
	if max < min {
		return max
	}

	delay := min
	for i := 0; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}

	if delay > max {
		return max
	}
	return delay
}
