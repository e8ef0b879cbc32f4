package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aryankumar/tilebatch/internal/executor"
)

// task is one submitted function call tracked by the scheduler
type task struct {
	id  string
	req executor.TaskRequest

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      string
	result     any
	err        string
	started    time.Time
	duration   time.Duration
	finishedAt time.Time
	cancelReq  bool

	done chan struct{}
}

func newTask(parent context.Context, id string, req executor.TaskRequest) *task {
	ctx, cancel := context.WithCancel(parent)
	return &task{
		id:     id,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		state:  executor.RemotePending,
		done:   make(chan struct{}),
	}
}

// start moves a pending task to running; false if it was cancelled first
func (t *task) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != executor.RemotePending {
		return false
	}
	t.state = executor.RemoteRunning
	t.started = time.Now()
	return true
}

// finish records the outcome of a running task. A task whose cancellation was
// requested and that returned a context error ends up cancelled.
func (t *task) finish(result any, err error) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal() {
		return t.state
	}

	t.duration = time.Since(t.started)
	switch {
	case err != nil && t.cancelReq && errors.Is(err, context.Canceled):
		t.state = executor.RemoteCancelled
	case err != nil:
		t.state = executor.RemoteFailed
		t.err = err.Error()
	default:
		t.state = executor.RemoteCompleted
		t.result = result
	}
	t.finishedAt = time.Now()
	close(t.done)
	t.cancel()
	return t.state
}

// requestCancel cancels a pending task immediately and asks a running one
// to stop through its context
func (t *task) requestCancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal() {
		return
	}
	t.cancelReq = true
	t.cancel()

	if t.state == executor.RemotePending {
		t.state = executor.RemoteCancelled
		t.finishedAt = time.Now()
		close(t.done)
	}
}

func (t *task) terminal() bool {
	switch t.state {
	case executor.RemoteCompleted, executor.RemoteFailed, executor.RemoteCancelled:
		return true
	}
	return false
}

// expired reports whether a finished task is older than retention
func (t *task) expired(now time.Time, retention time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminal() && now.Sub(t.finishedAt) > retention
}

func (t *task) status() executor.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	return executor.TaskStatus{
		ID:       t.id,
		Func:     t.req.Func,
		State:    t.state,
		Result:   t.result,
		Error:    t.err,
		Duration: t.duration,
	}
}
