package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errDown     = errors.New("dependency down")
	errRejected = errors.New("request rejected")
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, clock *fakeClock) *Breaker {
	return New("test", Config{
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
		Now:              clock.Now,
	})
}

func fail() error { return errDown }
func pass() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(2, clock)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), fail); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v, want %v", i, err, errDown)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("guarded call must not run while open")
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	cb := newTestBreaker(2, &fakeClock{t: time.Unix(0, 0)})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), pass)
	_ = cb.Execute(context.Background(), fail)

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestBreakerIgnoresErrorsThatAreNotFailures(t *testing.T) {
	cb := New("test", Config{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, errRejected)
		},
	})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(context.Background(), func() error { return errRejected }); !errors.Is(err, errRejected) {
			t.Fatalf("err = %v, want %v", err, errRejected)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestBreakerProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{"successful probe closes", pass, StateClosed},
		{"failed probe reopens", fail, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(0, 0)}
			cb := newTestBreaker(1, clock)
			_ = cb.Execute(context.Background(), fail)

			clock.Advance(30 * time.Second)
			if err := cb.Execute(context.Background(), pass); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("before cooldown: err = %v, want ErrCircuitOpen", err)
			}

			clock.Advance(31 * time.Second)
			_ = cb.Execute(context.Background(), tt.probe)
			if cb.State() != tt.want {
				t.Errorf("State = %v, want %v", cb.State(), tt.want)
			}
		})
	}
}

func TestBreakerRejectsCallsDuringProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(1, clock)
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Minute)

	var inner error
	err := cb.Execute(context.Background(), func() error {
		inner = cb.Execute(context.Background(), pass)
		return nil
	})
	if err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if !errors.Is(inner, ErrProbeInFlight) {
		t.Errorf("concurrent call err = %v, want ErrProbeInFlight", inner)
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestBreakerReportsTransitions(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var seen []string
	cb := New("test", Config{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			seen = append(seen, from.String()+">"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(context.Background(), pass)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestBreakerCancelledContext(t *testing.T) {
	cb := newTestBreaker(1, &fakeClock{t: time.Unix(0, 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, pass); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}
