package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aryankumar/tilebatch/internal/util"
)

func TestFuture_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		apply    func(f *Future)
		expected State
	}{
		{
			name:     "new future is pending",
			apply:    func(f *Future) {},
			expected: StatePending,
		},
		{
			name:     "running",
			apply:    func(f *Future) { f.markRunning() },
			expected: StateRunning,
		},
		{
			name: "completed",
			apply: func(f *Future) {
				f.markRunning()
				f.complete(42, nil)
			},
			expected: StateCompleted,
		},
		{
			name: "failed",
			apply: func(f *Future) {
				f.markRunning()
				f.complete(nil, errors.New("boom"))
			},
			expected: StateFailed,
		},
		{
			name:     "pending cancelled",
			apply:    func(f *Future) { f.cancel(false) },
			expected: StateCancelled,
		},
		{
			name: "running is not cancelled without preemption",
			apply: func(f *Future) {
				f.markRunning()
				f.cancel(false)
			},
			expected: StateRunning,
		},
		{
			name: "running cancelled with preemption",
			apply: func(f *Future) {
				f.markRunning()
				f.cancel(true)
			},
			expected: StateCancelled,
		},
		{
			name: "completed never changes",
			apply: func(f *Future) {
				f.markRunning()
				f.complete(1, nil)
				f.cancel(true)
				f.complete(nil, errors.New("late"))
			},
			expected: StateCompleted,
		},
		{
			name: "cancelled never runs",
			apply: func(f *Future) {
				f.cancel(false)
				f.markRunning()
				f.complete(1, nil)
			},
			expected: StateCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFuture(7, "item")
			tt.apply(f)
			if got := f.State(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
			if f.Done() != tt.expected.Terminal() {
				t.Errorf("Done() = %v for state %s", f.Done(), tt.expected)
			}
		})
	}
}

func TestFuture_Result(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		f := newFuture(1, nil)
		f.markRunning()
		f.complete("ok", nil)

		v, err := f.Result()
		if err != nil || v != "ok" {
			t.Errorf("expected ok, got %v, %v", v, err)
		}
	})

	t.Run("failed", func(t *testing.T) {
		base := errors.New("boom")
		f := newFuture(1, nil)
		f.markRunning()
		f.complete(nil, base)

		_, err := f.Result()
		if !errors.Is(err, base) || !util.IsTaskError(err) {
			t.Errorf("expected task error wrapping boom, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFuture(1, nil)
		f.cancel(false)

		_, err := f.Result()
		if !util.IsCancelled(err) {
			t.Errorf("expected cancellation, got %v", err)
		}
		if util.IsTaskError(err) {
			t.Error("cancellation must be distinct from task failure")
		}
		if !f.Cancelled() {
			t.Error("expected Cancelled() to be true")
		}
	})

	t.Run("blocks until done", func(t *testing.T) {
		f := newFuture(1, nil)
		f.markRunning()

		go func() {
			time.Sleep(20 * time.Millisecond)
			f.complete(3, nil)
		}()

		v, err := f.Result()
		if err != nil || v != 3 {
			t.Errorf("expected 3, got %v, %v", v, err)
		}
		if f.Duration() <= 0 {
			t.Error("expected a positive duration")
		}
	})

	t.Run("context expires first", func(t *testing.T) {
		f := newFuture(1, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := f.ResultContext(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StatePending, StateRunning, StateCompleted, StateFailed, StateCancelled} {
		got, err := ParseState(s.String())
		if err != nil {
			t.Fatalf("ParseState(%q) failed: %v", s.String(), err)
		}
		if got != s {
			t.Errorf("expected %s, got %s", s, got)
		}
	}

	if _, err := ParseState("exploded"); err == nil {
		t.Error("expected error for unknown state")
	}
	if State(99).String() != "unknown" {
		t.Errorf("expected unknown, got %s", State(99))
	}
}
