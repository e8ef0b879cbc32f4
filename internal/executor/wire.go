package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aryankumar/tilebatch/internal/util"
)

// workerRequest is one task line sent to a worker process
type workerRequest struct {
	ID     int64  `json:"id"`
	Func   string `json:"func"`
	Item   any    `json:"item"`
	Params Params `json:"params"`
}

// workerResponse is the line a worker process answers with
type workerResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TaskRequest is the body of a task submission to the scheduler
type TaskRequest struct {
	Func   string `json:"func"`
	Item   any    `json:"item"`
	Params Params `json:"params"`
}

// TaskStatus describes a scheduler task
type TaskStatus struct {
	ID       string        `json:"id"`
	Func     string        `json:"func"`
	State    string        `json:"state"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ErrorResponse is the body of a failed scheduler request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Call runs the function registered under name.
// Worker processes and the scheduler use it to execute received tasks.
func Call(ctx context.Context, name string, item any, p Params) (any, error) {
	fn, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", util.ErrUnregisteredFunc, name)
	}
	return safeCall(ctx, fn, item, p)
}

// registeredName resolves the name fn travels under to another process
func registeredName(fn Func) (string, error) {
	if fn == nil {
		return "", errors.New("task function is nil")
	}
	name, ok := NameOf(fn)
	if !ok {
		return "", fmt.Errorf("%w: register it with executor.Register to use it across processes", util.ErrUnregisteredFunc)
	}
	return name, nil
}

// remoteError rebuilds an error received as text from another process
func remoteError(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
