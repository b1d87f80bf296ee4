package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/rs/zerolog"
)

// ErrReconnectExhausted is returned once every reconnection attempt failed
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts, 0 for unlimited
	Backoff     time.Duration // Backoff before the second attempt
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration
	Jitter      float64       // Random spread applied to each backoff, as a fraction
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 10,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
		Jitter:      0.2,
	}
}

// ReconnectFunc is a function that attempts to reconnect
type ReconnectFunc func(ctx context.Context) error

// Reconnect calls fn until it succeeds, sleeping with exponential backoff
// between attempts. It stops early on context cancellation or a Permanent
// error. A breaker rejection counts as a failed attempt.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig, logger zerolog.Logger) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var lastErr error
	for attempt := 0; config.MaxAttempts <= 0 || attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			observability.RecordReconnectAttempt(true)
			if attempt > 0 {
				logger.Info().Int("attempt", attempt+1).Msg("Reconnection successful")
			}
			return nil
		}
		observability.RecordReconnectAttempt(false)
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsPermanent(err) {
			return fmt.Errorf("reconnect aborted: %w", err)
		}

		// Don't sleep after the last attempt
		if config.MaxAttempts > 0 && attempt == config.MaxAttempts-1 {
			break
		}

		wait := withJitter(CalculateBackoff(attempt, config.Backoff, config.MaxBackoff, multiplier), config.Jitter)
		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", wait).
			Msg("Reconnection attempt failed")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, config.MaxAttempts, lastErr)
}
