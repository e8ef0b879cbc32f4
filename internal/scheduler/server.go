// Package scheduler implements the HTTP task scheduler behind the
// distributed executor backend.
//
// Clients submit calls of registered executor functions, long-poll their
// status and may cancel them. At most Workers tasks run at a time; the rest
// wait as pending.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/aryankumar/tilebatch/internal/executor"
)

// Config holds the configuration for the scheduler.
type Config struct {
	// Address is the address to listen on (e.g., ":8786").
	Address string `yaml:"address"`

	// Workers is the number of tasks run concurrently.
	Workers int `yaml:"workers"`

	// MaxWait caps the long-poll wait a client may request.
	MaxWait time.Duration `yaml:"max_wait"`

	// Retention is how long finished tasks stay queryable.
	Retention time.Duration `yaml:"retention"`

	// Logger receives scheduler events.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:   ":8786",
		Workers:   runtime.NumCPU(),
		MaxWait:   30 * time.Second,
		Retention: 10 * time.Minute,
	}
}

// Stats counts tasks by outcome since start
type Stats struct {
	Workers   int   `json:"workers"`
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Server runs submitted tasks on a bounded number of slots
type Server struct {
	app    *fiber.App
	config *Config
	logger *slog.Logger

	slots *semaphore.Weighted

	mu    sync.RWMutex
	tasks map[string]*task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// NewServer creates a new scheduler.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxWait <= 0 {
		config.MaxWait = defaults.MaxWait
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		AppName:               "tilebatch scheduler",
		DisableStartupMessage: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app:    app,
		config: config,
		logger: logger.With("component", "scheduler"),
		slots:  semaphore.NewWeighted(int64(config.Workers)),
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}

	s.app.Use(fiberrecover.New())
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.healthCheck)

	v1 := s.app.Group("/v1")
	v1.Get("/stats", s.getStats)
	v1.Post("/tasks", s.submitTask)
	v1.Get("/tasks/:id", s.getTask)
	v1.Delete("/tasks/:id", s.cancelTask)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.wg.Add(1)
	go s.sweep()

	s.logger.Info("scheduler listening", "address", ln.Addr().String(), "workers", s.config.Workers)
	return s.app.Listener(ln)
}

// StartWithContext starts the scheduler and shuts it down when ctx is done.
func (s *Server) StartWithContext(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(grace)
	case err := <-errCh:
		return err
	}
}

// Shutdown cancels every task and stops the HTTP server, waiting at most
// timeout for in-flight requests and tasks.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("shutting down scheduler")

	s.mu.RLock()
	for _, t := range s.tasks {
		t.requestCancel()
	}
	s.mu.RUnlock()
	s.cancel()

	err := s.app.ShutdownWithTimeout(timeout)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("tasks still running after shutdown timeout", "timeout", timeout)
	}
	return err
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Submit registers a task and schedules it on a free slot
func (s *Server) Submit(req executor.TaskRequest) (executor.TaskStatus, error) {
	if _, ok := executor.Lookup(req.Func); !ok {
		return executor.TaskStatus{}, fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("task function %q is not registered on the scheduler", req.Func))
	}
	if s.ctx.Err() != nil {
		return executor.TaskStatus{}, fiber.NewError(fiber.StatusServiceUnavailable, "scheduler is shutting down")
	}

	t := newTask(s.ctx, uuid.NewString(), req)

	s.mu.Lock()
	s.tasks[t.id] = t
	s.mu.Unlock()
	s.submitted.Add(1)

	s.wg.Add(1)
	go s.run(t)

	s.logger.Debug("task submitted", "task", t.id, "func", req.Func)
	return t.status(), nil
}

// run waits for a slot and executes the task
func (s *Server) run(t *task) {
	defer s.wg.Done()

	if err := s.slots.Acquire(t.ctx, 1); err != nil {
		t.requestCancel()
		s.count(t)
		return
	}
	defer s.slots.Release(1)

	if !t.start() {
		s.count(t)
		return
	}

	result, err := executor.Call(t.ctx, t.req.Func, t.req.Item, t.req.Params)
	state := t.finish(result, err)
	s.count(t)

	s.logger.Debug("task finished", "task", t.id, "func", t.req.Func, "state", state, "duration", t.status().Duration)
}

func (s *Server) count(t *task) {
	switch t.status().State {
	case executor.RemoteCompleted:
		s.completed.Add(1)
	case executor.RemoteFailed:
		s.failed.Add(1)
	case executor.RemoteCancelled:
		s.cancelled.Add(1)
	}
}

// Lookup returns a task by ID
func (s *Server) lookup(id string) (*task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Stats returns current task counts
func (s *Server) Stats() Stats {
	stats := Stats{
		Workers:   s.config.Workers,
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		switch t.status().State {
		case executor.RemotePending:
			stats.Pending++
		case executor.RemoteRunning:
			stats.Running++
		}
	}
	return stats
}

// sweep drops finished tasks older than the retention period
func (s *Server) sweep() {
	defer s.wg.Done()

	interval := s.config.Retention / 4
	ticker := time.NewTicker(max(interval, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, t := range s.tasks {
				if t.expired(now, s.config.Retention) {
					delete(s.tasks, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// errorHandler renders errors returned by handlers as ErrorResponse.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(executor.ErrorResponse{Error: message})
}
