package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastReconnectConfig(maxAttempts int) *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: maxAttempts,
		Backoff:     time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestReconnect_Success(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	}, fastReconnectConfig(3), zerolog.Nop())

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestReconnect_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastReconnectConfig(5), zerolog.Nop())

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("connection refused")
	}, fastReconnectConfig(3), zerolog.Nop())

	if !errors.Is(err, ErrReconnectExhausted) {
		t.Errorf("Expected ErrReconnectExhausted, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_Unlimited(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 20 {
			return errors.New("connection refused")
		}
		return nil
	}, fastReconnectConfig(0), zerolog.Nop())

	if err != nil {
		t.Errorf("Expected eventual success, got %v", err)
	}
	if attempts != 20 {
		t.Errorf("Expected 20 attempts, got %d", attempts)
	}
}

func TestReconnect_PermanentError(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(errors.New("401 unauthorized"))
	}, fastReconnectConfig(5), zerolog.Nop())

	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Reconnect(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("connection refused")
	}, fastReconnectConfig(0), zerolog.Nop())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestReconnect_ThroughOpenBreaker(t *testing.T) {
	cb, now := newTestBreaker(1, time.Second)
	attempts := 0

	err := Reconnect(context.Background(), func(ctx context.Context) error {
		return cb.Execute(ctx, func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return errors.New("connection refused")
			}
			return nil
		})
	}, &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1}, zerolog.Nop())

	// The breaker opened after the first failure and the clock never moved,
	// so the remaining attempts are rejected without dialing.
	if !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, ErrReconnectExhausted) {
		t.Errorf("Expected exhausted attempts, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 dial, got %d", attempts)
	}

	*now = now.Add(2 * time.Second)
	err = Reconnect(context.Background(), func(ctx context.Context) error {
		return cb.Execute(ctx, func(ctx context.Context) error {
			attempts++
			return nil
		})
	}, fastReconnectConfig(3), zerolog.Nop())
	if err != nil {
		t.Errorf("Expected probe to succeed after reset timeout, got %v", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{10, time.Second},
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempt, 100*time.Millisecond, time.Second, 2.0)
		if got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWithJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := withJitter(time.Second, 0.2)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("Jittered backoff %v outside +/-20%%", d)
		}
	}
	if withJitter(time.Second, 0) != time.Second {
		t.Error("Expected zero jitter to leave backoff unchanged")
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Expected Permanent(nil) to be nil")
	}
	base := errors.New("forbidden")
	err := Permanent(base)
	if !errors.Is(err, base) {
		t.Error("Expected permanent error to unwrap")
	}
	if IsPermanent(base) {
		t.Error("Expected plain error not to be permanent")
	}
}
