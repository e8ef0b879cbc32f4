package executor

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aryankumar/tilebatch/internal/util"
)

// Concurrency selects the execution backend
type Concurrency string

const (
	// ConcurrencyNone runs tasks one after another on the calling goroutine
	ConcurrencyNone Concurrency = "none"
	// ConcurrencyThreads runs tasks on a bounded goroutine pool
	ConcurrencyThreads Concurrency = "threads"
	// ConcurrencyProcesses runs tasks in a pool of worker processes
	ConcurrencyProcesses Concurrency = "processes"
	// ConcurrencyDistributed submits tasks to a remote scheduler
	ConcurrencyDistributed Concurrency = "distributed"
)

// ParseConcurrency parses a concurrency name.
// An empty string means none.
func ParseConcurrency(name string) (Concurrency, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "sequential":
		return ConcurrencyNone, nil
	case "threads":
		return ConcurrencyThreads, nil
	case "processes":
		return ConcurrencyProcesses, nil
	case "distributed":
		return ConcurrencyDistributed, nil
	default:
		return "", util.NewValidationError("concurrency", name, "must be one of none, threads, processes, distributed")
	}
}

// Executor dispatches tasks to a backend and yields futures as they complete.
// An Executor owns its backend exclusively and must be closed exactly once.
type Executor interface {
	// AsCompleted turns every item into the task fn(item, params) and yields
	// one Future per task once it has an outcome. Task errors are captured on
	// the Future and never stop the sequence. Leaving the range loop early
	// cancels the tasks of this call that have not started.
	AsCompleted(ctx context.Context, fn Func, items iter.Seq[any], opts ...CallOption) iter.Seq[*Future]

	// Cancel stops further submissions and cancels every pending future.
	// It does not wait for running tasks.
	Cancel()

	// Cancelled reports whether Cancel was called
	Cancelled() bool

	// Futures returns every future created so far in submission order
	Futures() []*Future

	// Concurrency returns the backend kind
	Concurrency() Concurrency

	// Close shuts the backend down, waiting at most the shutdown grace period
	Close() error
}

// options holds executor configuration
type options struct {
	maxWorkers       int
	maxChunksize     int
	schedulerAddress string
	shutdownGrace    time.Duration
	connectTimeout   time.Duration
	pollWait         time.Duration
	workerCommand    []string
	logger           *slog.Logger
}

// Option is a functional option for New
type Option func(*options)

// WithMaxWorkers sets the number of workers (default: number of CPUs)
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithMaxChunksize bounds how many tasks are queued to one worker process
func WithMaxChunksize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxChunksize = n
		}
	}
}

// WithSchedulerAddress sets the base URL of the distributed scheduler
func WithSchedulerAddress(address string) Option {
	return func(o *options) {
		o.schedulerAddress = strings.TrimRight(address, "/")
	}
}

// WithShutdownGrace sets how long Close waits for running tasks
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownGrace = d
		}
	}
}

// WithConnectTimeout sets how long the distributed backend waits for the scheduler
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithWorkerCommand overrides the command started for each worker process.
// The default is the current executable.
func WithWorkerCommand(name string, args ...string) Option {
	return func(o *options) {
		o.workerCommand = append([]string{name}, args...)
	}
}

// WithLogger configures the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func defaultOptions() *options {
	return &options{
		maxWorkers:     runtime.NumCPU(),
		maxChunksize:   1,
		shutdownGrace:  5 * time.Second,
		connectTimeout: 5 * time.Second,
		pollWait:       5 * time.Second,
		logger:         slog.Default(),
	}
}

// New creates an executor for the given concurrency.
// Backend start-up failures match util.ErrBackendUnavailable.
func New(ctx context.Context, concurrency Concurrency, opts ...Option) (Executor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	switch concurrency {
	case ConcurrencyNone, "":
		return newSequential(o), nil
	case ConcurrencyThreads:
		return newThreadPool(o), nil
	case ConcurrencyProcesses:
		p, err := newProcessPool(o)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ConcurrencyDistributed:
		d, err := newDistributed(ctx, o)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, util.NewValidationError("concurrency", string(concurrency), "unknown concurrency")
	}
}

// base carries the bookkeeping shared by every backend
type base struct {
	concurrency Concurrency
	logger      *slog.Logger
	grace       time.Duration

	mu      sync.Mutex
	futures []*Future
	nextID  atomic.Int64

	cancelled atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	// inflight counts goroutines started on behalf of AsCompleted calls
	inflight sync.WaitGroup

	// runCtx is cancelled when Close gives up waiting; tasks observe it
	runCtx    context.Context
	runCancel context.CancelFunc
}

func (b *base) init(concurrency Concurrency, o *options) {
	b.concurrency = concurrency
	b.logger = o.logger.With("concurrency", string(concurrency))
	b.grace = o.shutdownGrace
	b.runCtx, b.runCancel = context.WithCancel(context.Background())
}

// Concurrency returns the backend kind
func (b *base) Concurrency() Concurrency {
	return b.concurrency
}

// Cancelled reports whether Cancel was called
func (b *base) Cancelled() bool {
	return b.cancelled.Load()
}

// Futures returns a snapshot of all futures in submission order
func (b *base) Futures() []*Future {
	b.mu.Lock()
	defer b.mu.Unlock()

	futures := make([]*Future, len(b.futures))
	copy(futures, b.futures)
	return futures
}

// Cancel stops submission and cancels pending futures
func (b *base) Cancel() {
	if b.cancelled.CompareAndSwap(false, true) {
		b.logger.Debug("executor cancelled")
	}
	b.cancelPending(b.Futures())
}

// track creates and records a new pending future
func (b *base) track(item any) *Future {
	f := newFuture(b.nextID.Add(1)-1, item)

	b.mu.Lock()
	b.futures = append(b.futures, f)
	b.mu.Unlock()

	return f
}

// stopped reports whether no new task may be submitted
func (b *base) stopped(ctx context.Context) bool {
	return b.cancelled.Load() || b.closed.Load() || ctx.Err() != nil
}

// cancelPending cancels every future in the list that has not started
func (b *base) cancelPending(futures []*Future) int {
	count := 0
	for _, f := range futures {
		if f.cancel(false) {
			count++
		}
	}
	if count > 0 {
		b.logger.Debug("cancelled pending tasks", "count", count)
	}
	return count
}

// taskContext derives the context tasks run with: it ends when ctx ends or
// when Close stops waiting for running tasks.
func (b *base) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.runCtx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

// shutdown marks the executor closed, cancels pending work and waits for
// in-flight goroutines up to the grace period
func (b *base) shutdown() error {
	b.closed.Store(true)
	b.cancelPending(b.Futures())

	defer b.runCancel()
	if !waitTimeout(&b.inflight, b.grace) {
		b.logger.Warn("tasks still running after shutdown grace period", "grace", b.grace)
		return fmt.Errorf("shutdown grace period of %s exceeded: %w", b.grace, util.ErrTimeout)
	}
	return nil
}

// failAll turns every item into a failed future. Used when a call cannot be
// dispatched at all, so callers still see one outcome per item.
func (b *base) failAll(ctx context.Context, items iter.Seq[any], err error, yield func(*Future) bool) {
	for item := range items {
		if b.stopped(ctx) {
			return
		}
		f := b.track(item)
		f.complete(nil, err)
		if !yield(f) {
			return
		}
	}
}

// callState tracks the futures of one AsCompleted call so that leaving the
// range loop early can cancel the ones that have not started
type callState struct {
	mu      sync.Mutex
	futures []*Future
	quit    chan struct{}
}

func newCallState() *callState {
	return &callState{quit: make(chan struct{})}
}

func (c *callState) add(f *Future) {
	c.mu.Lock()
	c.futures = append(c.futures, f)
	c.mu.Unlock()
}

func (c *callState) snapshot() []*Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Future(nil), c.futures...)
}

// left reports whether the consumer stopped ranging
func (c *callState) left() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// deliver hands a finished future to the consumer unless it left
func (c *callState) deliver(sink chan<- *Future, f *Future) {
	select {
	case sink <- f:
	case <-c.quit:
	}
}

// runTask executes fn for a running future and records the outcome
func runTask(ctx context.Context, fn Func, f *Future, p Params, logger *slog.Logger) {
	result, err := safeCall(ctx, fn, f.item, p)
	f.complete(result, err)

	if err != nil {
		logger.Debug("task failed", "task", f.id, "error", err, "duration", f.Duration())
	} else {
		logger.Debug("task succeeded", "task", f.id, "duration", f.Duration())
	}
}

// waitTimeout waits for wg, returning false if d elapsed first
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
