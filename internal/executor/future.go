package executor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aryankumar/tilebatch/internal/util"
)

// State is the lifecycle state of a Future
type State int32

const (
	// StatePending means the task is tracked but has not started
	StatePending State = iota
	// StateRunning means the task was handed to a worker
	StateRunning
	// StateCompleted means the task returned a result
	StateCompleted
	// StateFailed means the task returned an error
	StateFailed
	// StateCancelled means the task was cancelled before producing an outcome
	StateCancelled
)

var stateNames = map[State]string{
	StatePending:   "pending",
	StateRunning:   "running",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateCancelled: "cancelled",
}

// String returns the lowercase state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseState parses a state name produced by State.String
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StatePending, fmt.Errorf("unknown task state %q", name)
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Future is a handle to the eventual outcome of one submitted task.
// Its state only moves forward: once terminal it never changes again.
type Future struct {
	id   int64
	item any

	mu       sync.Mutex
	state    State
	result   any
	err      error
	duration time.Duration
	started  time.Time
	done     chan struct{}
}

func newFuture(id int64, item any) *Future {
	return &Future{
		id:    id,
		item:  item,
		state: StatePending,
		done:  make(chan struct{}),
	}
}

// ID returns the submission sequence number, unique within one Executor
func (f *Future) ID() int64 {
	return f.id
}

// Item returns the input item the task was created from
func (f *Future) Item() any {
	return f.item
}

// State returns the current state
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done reports whether the future reached a terminal state
func (f *Future) Done() bool {
	return f.State().Terminal()
}

// Cancelled reports whether the future was cancelled
func (f *Future) Cancelled() bool {
	return f.State() == StateCancelled
}

// Ready returns a channel that is closed once the future is terminal
func (f *Future) Ready() <-chan struct{} {
	return f.done
}

// Duration returns how long the task ran; zero unless it completed or failed
func (f *Future) Duration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

// Result blocks until the future is terminal and returns the task result.
// A failed task returns a *util.TaskError; a cancelled one returns an error
// matching util.ErrCancelled.
func (f *Future) Result() (any, error) {
	<-f.done
	return f.outcome()
}

// ResultContext is like Result but gives up when ctx is done
func (f *Future) ResultContext(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) outcome() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := strconv.FormatInt(f.id, 10)
	switch f.state {
	case StateCompleted:
		return f.result, nil
	case StateFailed:
		return nil, util.WrapTaskError(id, f.err)
	default:
		return nil, fmt.Errorf("task %s: %w", id, util.ErrCancelled)
	}
}

// markRunning moves a pending future to running.
// Returns false when the future was cancelled in the meantime.
func (f *Future) markRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StatePending {
		return false
	}
	f.state = StateRunning
	f.started = time.Now()
	return true
}

// complete records the outcome of a pending or running future
func (f *Future) complete(result any, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Terminal() {
		return false
	}
	if !f.started.IsZero() {
		f.duration = time.Since(f.started)
	}
	if err != nil {
		f.state = StateFailed
		f.err = err
	} else {
		f.state = StateCompleted
		f.result = result
	}
	close(f.done)
	return true
}

// cancel marks the future cancelled. A running future is only cancelled
// when preempt is set, i.e. the backend actually stopped the task.
func (f *Future) cancel(preempt bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.state == StatePending:
	case f.state == StateRunning && preempt:
	default:
		return false
	}
	f.state = StateCancelled
	close(f.done)
	return true
}
