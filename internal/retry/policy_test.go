package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/washer/internal/config"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != config.RetryBackoffLinear {
		t.Fatalf("expected linear default mode got %s", p.Mode)
	}
	if p.Initial != time.Second || p.Max != 30*time.Second || p.MaxRetries != 2 {
		t.Fatalf("unexpected default %+v", p)
	}
}

func TestNewPolicyClampsInitial(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)
	if p.Initial != 2*time.Second {
		t.Fatalf("expected clamped initial 2s got %v", p.Initial)
	}
	if p.Mode != config.RetryBackoffFixed || p.MaxRetries != 5 {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(config.RetryBackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3)
	for i := 1; i <= 3; i++ {
		if d := fixed.Delay(i); d != 100*time.Millisecond {
			t.Fatalf("fixed attempt %d expected 100ms got %v", i, d)
		}
	}

	linear := NewPolicy(config.RetryBackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	for attempt, want := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 250 * time.Millisecond} {
		if d := linear.Delay(attempt); d != want {
			t.Fatalf("linear attempt %d expected %v got %v", attempt, want, d)
		}
	}

	exp := NewPolicy(config.RetryBackoffExponential, 100*time.Millisecond, time.Second, 5)
	if d := exp.Delay(4); d != 800*time.Millisecond {
		t.Fatalf("exponential attempt 4 expected 800ms got %v", d)
	}
	if d := exp.Delay(5); d != time.Second {
		t.Fatalf("exponential attempt 5 expected cap got %v", d)
	}
}

func TestFromConfigAttempts(t *testing.T) {
	p := FromConfig(config.RetryConfig{}, 2)
	if p.MaxRetries != 1 {
		t.Fatalf("2 attempts should give 1 retry, got %d", p.MaxRetries)
	}
	if p := FromConfig(config.RetryConfig{}, 0); p.MaxRetries != 0 {
		t.Fatalf("expected single attempt, got %d retries", p.MaxRetries)
	}
}

func TestDoStopsAfterBound(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1)
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	boom := errors.New("boom")
	err := p.Do(t.Context(), sleep, func(int) error {
		calls++
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if len(slept) != 1 {
		t.Fatalf("expected one backoff sleep, got %d", len(slept))
	}
}

func TestDoReturnsOnSuccess(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3)
	calls := 0
	err := p.Do(t.Context(), func(context.Context, time.Duration) error { return nil }, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
