package recovery

import (
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

// MaxBackoff caps any single retry delay
const MaxBackoff = 60 * time.Second

// Base delays per backoff strategy
const (
	exponentialBase = 1000 * time.Millisecond
	linearBase      = 2000 * time.Millisecond
	fixedBase       = 5000 * time.Millisecond
	adaptiveBase    = 1500 * time.Millisecond
)

// Delay returns the wait before retry number attempt (0-based)
func Delay(strategy failure.BackoffStrategy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var d time.Duration
	switch strategy {
	case failure.BackoffExponential:
		d = exponentialBase << uint(min(attempt, 16))
	case failure.BackoffLinear:
		d = linearBase * time.Duration(attempt+1)
	case failure.BackoffFixed:
		d = fixedBase
	case failure.BackoffAdaptive:
		f := float64(adaptiveBase)
		for i := 0; i < attempt && f < float64(MaxBackoff); i++ {
			f *= 1.5
		}
		d = time.Duration(f)
	default:
		return 0
	}

	if d > MaxBackoff || d < 0 {
		return MaxBackoff
	}
	return d
}

// Delays returns the wait before each of maxRetries retries
func Delays(strategy failure.BackoffStrategy, maxRetries int) []time.Duration {
	if maxRetries <= 0 || strategy == failure.BackoffNone || strategy == "" {
		return nil
	}
	delays := make([]time.Duration, maxRetries)
	for i := range delays {
		delays[i] = Delay(strategy, i)
	}
	return delays
}
