// Package job wraps an executor-driven operation into a sized, single-use
// sequence of ProcessInfo records.
//
// The total is known before iteration starts so progress displays can rely
// on it. A Job owns the resource that produced its work and releases it
// exactly once however iteration ends.
package job

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/util"
)

// Generator produces ProcessInfo records using the executor the Job built.
// A non-nil error marks a failed task; iteration may continue after it.
type Generator func(ctx context.Context, ex executor.Executor) iter.Seq2[ProcessInfo, error]

// Option configures a Job
type Option func(*Job)

// WithTotal sets the number of records the Job is expected to produce
func WithTotal(total int) Option {
	return func(j *Job) {
		j.total = max(total, 0)
	}
}

// WithConcurrency selects the executor backend
func WithConcurrency(c executor.Concurrency) Option {
	return func(j *Job) {
		j.concurrency = c
	}
}

// WithExecutorOptions passes options to executor.New
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(j *Job) {
		j.executorOpts = append(j.executorOpts, opts...)
	}
}

// WithCloser hands a resource to the Job; it is closed exactly once after
// iteration ends or on Close
func WithCloser(c io.Closer) Option {
	return func(j *Job) {
		j.closer = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// Job is a sized, single-use sequence of ProcessInfo
type Job struct {
	gen          Generator
	total        int
	concurrency  executor.Concurrency
	executorOpts []executor.Option
	closer       io.Closer
	logger       *slog.Logger

	consumed    atomic.Bool
	releaseOnce sync.Once
	releaseErr  error

	mu    sync.Mutex
	err   error
	tasks executor.Summary
}

// New creates a Job. Nothing runs until the Job is iterated.
func New(gen Generator, opts ...Option) *Job {
	j := &Job{
		gen:         gen,
		concurrency: executor.ConcurrencyNone,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Empty returns a Job with nothing to do that still releases closer
func Empty(closer io.Closer) *Job {
	return New(nil, WithTotal(0), WithCloser(closer))
}

// Len returns the total set at construction
func (j *Job) Len() int {
	return j.total
}

// Concurrency returns the executor backend the Job runs on
func (j *Job) Concurrency() executor.Concurrency {
	return j.concurrency
}

// All runs the operation and yields one record per finished task.
// The sequence can be ranged over once; later calls yield nothing.
// Stopping early cancels pending tasks.
func (j *Job) All(ctx context.Context) iter.Seq2[ProcessInfo, error] {
	return func(yield func(ProcessInfo, error) bool) {
		if !j.consumed.CompareAndSwap(false, true) {
			return
		}

		var (
			stopped  bool
			failed   bool
			yielding bool
		)
		emit := func(info ProcessInfo, err error) bool {
			yielding = true
			ok := yield(info, err)
			yielding = false
			if !ok {
				stopped = true
			}
			return ok
		}

		defer func() {
			err := j.release()
			if err == nil {
				return
			}
			j.setErr(err)
			// A task failure takes precedence; a panicking body is not resumed
			if !stopped && !failed && !yielding {
				emit(ProcessInfo{}, err)
			}
		}()

		if j.total == 0 || j.gen == nil {
			j.logger.Debug("nothing to process")
			return
		}

		ex, err := executor.New(ctx, j.concurrency, append([]executor.Option{executor.WithLogger(j.logger)}, j.executorOpts...)...)
		if err != nil {
			failed = true
			j.setErr(err)
			emit(ProcessInfo{}, err)
			return
		}
		defer func() {
			if err := ex.Close(); err != nil {
				j.logger.Warn("executor did not shut down cleanly", "error", err)
			}
			tasks := executor.Summarize(ex.Futures())
			j.mu.Lock()
			j.tasks = tasks
			j.mu.Unlock()
			j.logger.Debug("executor closed", "summary", tasks.String())
		}()

		start := time.Now()
		j.logger.Debug("job started", "total", j.total, "concurrency", j.concurrency)

		for info, err := range j.gen(ctx, ex) {
			if err != nil {
				failed = true
				j.setErr(err)
			}
			if !emit(info, err) {
				j.logger.Debug("job abandoned by consumer", "elapsed", time.Since(start))
				ex.Cancel()
				return
			}
		}

		j.logger.Debug("job finished", "elapsed", time.Since(start))
	}
}

// Collect drains the Job and returns every record. Errors of failed tasks
// are joined into the returned error; records are still returned.
func (j *Job) Collect(ctx context.Context) ([]ProcessInfo, error) {
	infos := make([]ProcessInfo, 0, j.total)
	var errs []error
	for info, err := range j.All(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, util.CombineErrors(errs...)
}

// Close releases the Job's resource without running it. It is safe to call
// after iteration and more than once.
func (j *Job) Close() error {
	j.consumed.Store(true)
	return j.release()
}

// Err returns the first failure seen while iterating, including a release
// failure
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Tasks summarizes the executor tasks once iteration has ended. Tasks
// cancelled before they started are counted as cancelled.
func (j *Job) Tasks() executor.Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tasks
}

func (j *Job) setErr(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err == nil {
		j.err = err
	}
}

// release closes the resource exactly once
func (j *Job) release() error {
	j.releaseOnce.Do(func() {
		if j.closer == nil {
			return
		}
		if err := j.closer.Close(); err != nil {
			var re *util.ReleaseError
			if !errors.As(err, &re) {
				err = &util.ReleaseError{Err: err}
			}
			j.releaseErr = err
			j.logger.Warn("failed to release job resource", "error", err)
			return
		}
		j.logger.Debug("job resource released")
	})
	return j.releaseErr
}
