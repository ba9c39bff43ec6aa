package syncqueue

import "time"

// Backoff returns the delay before retry number retryCount+1:
// base * 2^retryCount, capped at maxDelay when maxDelay > 0.
func Backoff(base, maxDelay time.Duration, retryCount int) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		if maxDelay > 0 && d >= maxDelay {
			break
		}
		d *= 2
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
