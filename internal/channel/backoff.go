package channel

import "time"

// Backoff returns the delay before retry n (1-based): base doubled per
// retry and capped at max. The sequence is non-decreasing.
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 1 || base <= 0 {
		return 0
	}

	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
