package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aryankumar/tilebatch/internal/util"
)

// WorkerEnv is set to "1" in the environment of worker processes
const WorkerEnv = "TILEBATCH_WORKER"

// IsWorkerProcess reports whether the current process was started as a
// processes-backend worker. main (and TestMain in tests) must check it
// before doing anything else and hand control to RunWorker.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// RunWorker serves tasks on stdin/stdout until stdin is closed and returns
// the process exit code
func RunWorker() int {
	util.IgnoreInterrupts()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	logger = logger.With("worker_pid", os.Getpid())

	if err := ServeWorker(context.Background(), os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		return 1
	}
	return 0
}

// ServeWorker reads task requests from r one at a time, runs them through
// the function registry and writes one response line per request to w
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	dec := json.NewDecoder(bufio.NewReader(r))
	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)

	for {
		var req workerRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode request: %w", err)
		}

		resp := handleRequest(ctx, req)
		if resp.Error != "" {
			logger.Debug("task failed", "task", req.ID, "func", req.Func, "error", resp.Error)
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func handleRequest(ctx context.Context, req workerRequest) workerResponse {
	resp := workerResponse{ID: req.ID}

	result, err := Call(ctx, req.Func, req.Item, req.Params)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("encode result of %s: %v", req.Func, err)
		return resp
	}
	resp.Result = raw
	return resp
}
