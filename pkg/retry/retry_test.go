package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestDo(t *testing.T) {
	errFatal := errors.New("fatal")
	onlyTransient := func(err error) bool { return errors.Is(err, errTransient) }

	tests := []struct {
		name         string
		cfg          Config
		failures     []error
		wantErr      error
		wantAttempts int
	}{
		{
			name:         "succeeds first time",
			cfg:          Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
			wantAttempts: 1,
		},
		{
			name:         "retries transient errors until success",
			cfg:          Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
			failures:     []error{errTransient, errTransient},
			wantAttempts: 3,
		},
		{
			name:         "gives up after max attempts",
			cfg:          Config{MaxAttempts: 2, InitialDelay: time.Millisecond},
			failures:     []error{errTransient, errTransient, errTransient},
			wantErr:      errTransient,
			wantAttempts: 2,
		},
		{
			name:         "zero attempts means one",
			cfg:          Config{InitialDelay: time.Millisecond},
			failures:     []error{errTransient},
			wantErr:      errTransient,
			wantAttempts: 1,
		},
		{
			name:         "stops on permanent error",
			cfg:          Config{MaxAttempts: 3, InitialDelay: time.Millisecond, ShouldRetry: onlyTransient},
			failures:     []error{errFatal},
			wantErr:      errFatal,
			wantAttempts: 1,
		},
		{
			name:         "permanent error after a transient one",
			cfg:          Config{MaxAttempts: 3, InitialDelay: time.Millisecond, ShouldRetry: onlyTransient},
			failures:     []error{errTransient, errFatal},
			wantErr:      errFatal,
			wantAttempts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), tt.cfg, func() error {
				attempts++
				if attempts <= len(tt.failures) {
					return tt.failures[attempts-1]
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := jitter(d, 0.1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jitter(%v) = %v out of bounds", d, got)
		}
	}
	if got := jitter(d, 0); got != d {
		t.Errorf("jitter without fraction = %v", got)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, Config{MaxAttempts: 3}, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("operation should not run with a cancelled context")
	}
}

func TestDoStopsWaitingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, Config{MaxAttempts: 5, InitialDelay: time.Hour}, func() error {
		attempts++
		cancel()
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
