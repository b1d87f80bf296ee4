package resilience

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// CalculateBackoff calculates the backoff duration for a given zero-based attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := float64(initialBackoff) * math.Pow(multiplier, float64(attempt))
	if maxBackoff > 0 && (backoff > float64(maxBackoff) || math.IsInf(backoff, 1)) {
		return maxBackoff
	}
	return time.Duration(backoff)
}

// withJitter spreads d by up to +/- fraction of itself
func withJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * fraction * float64(d)
	return d + time.Duration(delta)
}

// PermanentError marks a failure that retrying cannot fix, such as a rejected
// credential. Reconnect stops on it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that Reconnect gives up immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
