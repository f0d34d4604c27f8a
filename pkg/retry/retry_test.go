package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	base := errors.New("still down")
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return base
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, base) {
		t.Errorf("Do() error = %v, want wrapped %v", err, base)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	base := errors.New("bad credentials")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return Permanent(base)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, base) {
		t.Errorf("Do() error = %v, want %v", err, base)
	}
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestDo_ContextErrorFromFnNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("upstream: %w", context.DeadlineExceeded)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want DeadlineExceeded", err)
	}
}

func TestDelay_CapsAndDoubles(t *testing.T) {
	cfg := Config{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	}.normalized()

	if d := cfg.delay(0); d != 100*time.Millisecond {
		t.Errorf("delay(0) = %v, want 100ms", d)
	}
	if d := cfg.delay(2); d != 400*time.Millisecond {
		t.Errorf("delay(2) = %v, want 400ms", d)
	}
	if d := cfg.delay(30); d != time.Second {
		t.Errorf("delay(30) = %v, want cap 1s", d)
	}
}

func TestDelay_JitterStaysInRange(t *testing.T) {
	cfg := Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      0.5,
	}.normalized()

	for i := 0; i < 50; i++ {
		d := cfg.delay(0)
		if d < 50*time.Millisecond || d > 100*time.Millisecond {
			t.Fatalf("delay(0) = %v, want within [50ms, 100ms]", d)
		}
	}
}

func TestDefaultConfigNormalization(t *testing.T) {
	cfg := Config{}.normalized()
	if cfg.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", cfg.MaxAttempts)
	}
	if cfg.BaseDelay <= 0 {
		t.Errorf("BaseDelay = %v, want positive", cfg.BaseDelay)
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		t.Errorf("MaxDelay %v below BaseDelay %v", cfg.MaxDelay, cfg.BaseDelay)
	}
}
