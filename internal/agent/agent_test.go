package agent

import (
	"context"
	"testing"
	"time"
)

func TestWithTimeout_DefaultsWhenNonPositive(t *testing.T) {
	for _, ms := range []int{0, -1, -1000} {
		ctx, cancel := withTimeout(context.Background(), ms)
		defer cancel()

		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatalf("timeoutMS=%d: expected a deadline", ms)
		}
		remaining := time.Until(deadline)
		if remaining <= 29*time.Second || remaining > 30*time.Second {
			t.Errorf("timeoutMS=%d: expected ~30s remaining, got %v", ms, remaining)
		}
	}
}

func TestWithTimeout_HonorsExplicitValue(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 5_000)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	remaining := time.Until(deadline)
	if remaining <= 4*time.Second || remaining > 5*time.Second {
		t.Errorf("expected ~5s remaining, got %v", remaining)
	}
}

func TestWithTimeout_ParentCancellationPropagates(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	ctx, cancel := withTimeout(parent, 10_000)
	defer cancel()

	parentCancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected derived context to be done after parent cancellation")
	}
}
