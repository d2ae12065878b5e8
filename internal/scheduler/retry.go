package scheduler

import (
	"math"
	"math/rand/v2"
	"time"

	"campaign-dispatch/internal/apperrors"
)

// RetryPolicy re-schedules a failed step when the failure is retryable.
// MaxAttempts counts retries after the first attempt; zero halts the
// contact's sequence on the first failure.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// Next returns the delay before the attempt following attempt, or false when
// the sequence must halt.
func (p RetryPolicy) Next(attempt int, err error) (time.Duration, bool) {
	if p.MaxAttempts <= 0 || attempt > p.MaxAttempts || !apperrors.Retryable(err) {
		return 0, false
	}
	return p.delay(attempt), true
}

// delay is exponential with equal jitter: half the base is kept so retries
// never collapse to an immediate resend.
func (p RetryPolicy) delay(attempt int) time.Duration {
	base := float64(p.Initial) * math.Pow(2, float64(attempt-1))
	if p.Max > 0 && base > float64(p.Max) {
		base = float64(p.Max)
	}
	half := base / 2
	return time.Duration(half + rand.Float64()*half) //nolint:gosec // jitter does not need crypto rand
}
