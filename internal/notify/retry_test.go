package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

// controlled fails twice, then succeeds
type controlled struct{ calls int }

func (c *controlled) Send(ctx context.Context, title, message string) error {
	c.calls++
	if c.calls < 3 {
		return errors.New("temp")
	}
	return nil
}

func (c *controlled) Name() string { return "controlled" }

func TestMultiNotifierRetriesUntilSuccess(t *testing.T) {
	m := NewMultiNotifier()
	oldSleep := sleepHook
	sleepHook = func(time.Duration) {}
	t.Cleanup(func() { sleepHook = oldSleep })
	m.SetCooldown(0)

	ctl := &controlled{}
	m.Add(ctl)
	m.Send(context.Background(), "T", "M")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	// 2 failures + 1 success
	if ctl.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", ctl.calls)
	}
}

func TestMultiNotifierCooldownSuppresses(t *testing.T) {
	m := NewMultiNotifier()
	oldSleep := sleepHook
	sleepHook = func(time.Duration) {}
	t.Cleanup(func() { sleepHook = oldSleep })

	m.SetCooldown(1 * time.Minute)
	ctl := &fakeService{name: "svc"}
	m.Add(ctl)
	m.lastSent["svc"] = time.Now()
	m.Send(context.Background(), "T", "M")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if len(ctl.calls) != 0 {
		t.Fatalf("expected 0 attempts due to cooldown, got %d", len(ctl.calls))
	}
}

func TestBackoffGrowsPerAttempt(t *testing.T) {
	oldSleep := sleepHook
	durations := make([]time.Duration, 0)
	sleepHook = func(d time.Duration) { durations = append(durations, d) }
	t.Cleanup(func() { sleepHook = oldSleep })

	m := NewMultiNotifier()
	m.SetCooldown(0)
	ctl := &controlled{}
	m.Add(ctl)
	m.Send(context.Background(), "T", "M")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	// two sleeps (after attempts 1 & 2), second one doubled
	if len(durations) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(durations))
	}
	if durations[1] != 2*durations[0] {
		t.Fatalf("expected second backoff to double, got %v then %v", durations[0], durations[1])
	}
}
