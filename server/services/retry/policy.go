package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy decides when a failed operation should next be attempted.
type Policy interface {
	NextRetry(now time.Time, retries int, cause []error) time.Time
}

// ExponentialBackoff doubles the delay on each retry, starting at Min and
// capped at Max. Jitter adds up to that fraction of random extra delay.
type ExponentialBackoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64
}

// NextRetry returns the time at which the operation should next be retried.
func (p ExponentialBackoff) NextRetry(now time.Time, retries int, _ []error) time.Time {
	return now.Add(p.delay(retries))
}

func (p ExponentialBackoff) delay(n int) time.Duration {
	s := math.Pow(2, float64(n)) * p.Min.Seconds()
	if s > p.Max.Seconds() {
		s = p.Max.Seconds()
	}
	s *= 1 + (rand.Float64() * p.Jitter)
	return time.Duration(s * float64(time.Second))
}

// Immediately retries without delay.
var Immediately Policy = immediate{}

type immediate struct{}

func (immediate) NextRetry(now time.Time, _ int, _ []error) time.Time { return now }
