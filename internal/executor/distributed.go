package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/aryankumar/tilebatch/internal/util"
)

// Scheduler task states as reported over HTTP
const (
	RemotePending   = "pending"
	RemoteRunning   = "running"
	RemoteCompleted = "completed"
	RemoteFailed    = "failed"
	RemoteCancelled = "cancelled"
)

// distributed submits tasks to a tilebatch scheduler over HTTP and long-polls
// each task until it reaches a terminal state
type distributed struct {
	base

	address        string
	client         *fiber.Client
	releaseClient  func(*fiber.Client)
	connectTimeout time.Duration
	pollWait       time.Duration

	// submitted bounds the tasks handed to the scheduler and not yet finished
	submitted *semaphore.Weighted

	remoteMu sync.Mutex
	remote   map[int64]remoteTask
}

type remoteTask struct {
	f  *Future
	id string
}

func newDistributed(ctx context.Context, o *options) (*distributed, error) {
	if o.schedulerAddress == "" {
		return nil, fmt.Errorf("%w: no scheduler address configured", util.ErrBackendUnavailable)
	}

	slots := int64(max(o.maxWorkers, 1) * max(o.maxChunksize, 1) * 2)
	d := &distributed{
		address:        o.schedulerAddress,
		client:         fiber.AcquireClient(),
		releaseClient:  fiber.ReleaseClient,
		connectTimeout: o.connectTimeout,
		pollWait:       o.pollWait,
		submitted:      semaphore.NewWeighted(slots),
		remote:         make(map[int64]remoteTask),
	}
	d.init(ConcurrencyDistributed, o)

	if err := d.probe(ctx); err != nil {
		d.releaseClient(d.client)
		return nil, err
	}

	d.logger.Debug("connected to scheduler", "address", d.address, "slots", slots)
	return d, nil
}

// probe waits until the scheduler answers its health check
func (d *distributed) probe(ctx context.Context) error {
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, 100*time.Millisecond, d.connectTimeout, true, func(ctx context.Context) (bool, error) {
		agent := d.client.Get(d.address + "/healthz")
		agent.Timeout(d.connectTimeout)

		code, _, errs := agent.Bytes()
		if len(errs) > 0 {
			lastErr = errs[0]
			return false, nil
		}
		if code != fiber.StatusOK {
			lastErr = fmt.Errorf("health check returned status %d", code)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("%w: scheduler %s: %v", util.ErrBackendUnavailable, d.address, lastErr)
	}
	return nil
}

// AsCompleted submits items as long as submission slots are free; each
// submitted task is long-polled by its own goroutine
func (d *distributed) AsCompleted(ctx context.Context, fn Func, items iter.Seq[any], opts ...CallOption) iter.Seq[*Future] {
	params := NewParams(opts...)

	return func(yield func(*Future) bool) {
		if d.stopped(ctx) {
			return
		}

		name, err := registeredName(fn)
		if err != nil {
			d.failAll(ctx, items, err, yield)
			return
		}

		call := newCallState()
		results := make(chan *Future)

		var wg sync.WaitGroup
		done := func(f *Future) {
			defer wg.Done()
			if !f.Cancelled() {
				call.deliver(results, f)
			}
		}

		wg.Add(1)
		d.inflight.Add(1)
		go d.feed(ctx, name, items, params, call, done, &wg)

		go func() {
			wg.Wait()
			close(results)
		}()

		defer func() {
			close(call.quit)
			d.cancelPending(call.snapshot())
		}()

		for f := range results {
			if !yield(f) {
				return
			}
		}
	}
}

func (d *distributed) feed(
	ctx context.Context,
	name string,
	items iter.Seq[any],
	params Params,
	call *callState,
	done func(*Future),
	wg *sync.WaitGroup,
) {
	defer d.inflight.Done()
	defer wg.Done()

	for item := range items {
		if d.stopped(ctx) || call.left() {
			d.logger.Debug("submission stopped")
			return
		}

		f := d.track(item)
		call.add(f)

		if !d.acquire(ctx, f, call) {
			if !f.Done() {
				f.cancel(false)
			}
			continue
		}
		if !f.markRunning() {
			d.submitted.Release(1)
			continue
		}

		wg.Add(1)
		status, err := d.submit(TaskRequest{Func: name, Item: item, Params: params})
		if err != nil {
			d.submitted.Release(1)
			f.complete(nil, err)
			done(f)
			continue
		}

		rt := remoteTask{f: f, id: status.ID}
		d.remoteMu.Lock()
		d.remote[f.id] = rt
		d.remoteMu.Unlock()

		// Cancel may have snapshotted the remote tasks before this one
		if d.cancelled.Load() || d.closed.Load() {
			if err := d.cancelOne(rt); err != nil {
				d.logger.Warn("failed to cancel remote task", "error", err)
			}
		}

		d.inflight.Add(1)
		go d.watch(f, status.ID, done)
	}
}

// acquire takes a submission slot. Returns false when f was cancelled, the
// consumer left or ctx ended while waiting.
func (d *distributed) acquire(ctx context.Context, f *Future, call *callState) bool {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-f.Ready():
		case <-call.quit:
		case <-actx.Done():
		}
		cancel()
	}()

	return d.submitted.Acquire(actx, 1) == nil
}

// watch long-polls one remote task until it is terminal
func (d *distributed) watch(f *Future, id string, done func(*Future)) {
	defer d.inflight.Done()
	defer d.submitted.Release(1)
	defer func() {
		d.remoteMu.Lock()
		delete(d.remote, f.id)
		d.remoteMu.Unlock()
		done(f)
	}()

	for {
		if f.Done() {
			return
		}
		if d.runCtx.Err() != nil {
			f.complete(nil, fmt.Errorf("task %s abandoned: %w", id, util.ErrShutdown))
			return
		}

		status, err := d.poll(id)
		if err != nil {
			f.complete(nil, fmt.Errorf("poll task %s: %w", id, err))
			return
		}

		switch status.State {
		case RemoteCompleted:
			f.complete(status.Result, nil)
			return
		case RemoteFailed:
			f.complete(nil, remoteError(status.Error))
			return
		case RemoteCancelled:
			f.cancel(true)
			return
		}
	}
}

// Cancel cancels local pending futures and asks the scheduler to cancel
// every submitted task
func (d *distributed) Cancel() {
	d.base.Cancel()
	d.cancelRemote()
}

func (d *distributed) cancelRemote() {
	d.remoteMu.Lock()
	tasks := make([]remoteTask, 0, len(d.remote))
	for _, t := range d.remote {
		tasks = append(tasks, t)
	}
	d.remoteMu.Unlock()

	if len(tasks) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, t := range tasks {
		g.Go(func() error {
			return d.cancelOne(t)
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("failed to cancel remote tasks", "error", err)
	}
	d.logger.Debug("requested remote cancellation", "tasks", len(tasks))
}

// cancelOne asks the scheduler to cancel one task
func (d *distributed) cancelOne(t remoteTask) error {
	status, err := d.delete(t.id)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", t.id, err)
	}
	if status.State == RemoteCancelled {
		t.f.cancel(true)
	}
	return nil
}

// Close cancels pending and submitted tasks and waits for the pollers
func (d *distributed) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.logger.Debug("disconnecting from scheduler", "address", d.address)
		d.closed.Store(true)
		d.cancelPending(d.Futures())
		d.cancelRemote()

		drained := waitTimeout(&d.inflight, d.grace)
		d.runCancel()
		if !drained {
			d.logger.Warn("tasks still being polled after shutdown grace period", "grace", d.grace)
			err = fmt.Errorf("shutdown grace period of %s exceeded: %w", d.grace, util.ErrTimeout)
			// pollers still hold the client until their request returns
			go func() {
				d.inflight.Wait()
				d.releaseClient(d.client)
			}()
			return
		}
		d.releaseClient(d.client)
	})
	return err
}

func (d *distributed) submit(req TaskRequest) (TaskStatus, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("encode task: %w", err)
	}

	agent := d.client.Post(d.address + "/v1/tasks")
	agent.Timeout(d.connectTimeout)
	agent.Body(body)
	agent.Set("Content-Type", "application/json")

	return decodeStatus(agent.Bytes())
}

func (d *distributed) poll(id string) (TaskStatus, error) {
	u := fmt.Sprintf("%s/v1/tasks/%s?wait=%s", d.address, url.PathEscape(id), url.QueryEscape(d.pollWait.String()))
	agent := d.client.Get(u)
	agent.Timeout(d.pollWait + d.connectTimeout)

	return decodeStatus(agent.Bytes())
}

func (d *distributed) delete(id string) (TaskStatus, error) {
	agent := d.client.Delete(d.address + "/v1/tasks/" + url.PathEscape(id))
	agent.Timeout(d.connectTimeout)

	return decodeStatus(agent.Bytes())
}

// decodeStatus turns a scheduler response into a TaskStatus
func decodeStatus(code int, body []byte, errs []error) (TaskStatus, error) {
	if len(errs) > 0 {
		return TaskStatus{}, fmt.Errorf("%w: %v", util.ErrBackendUnavailable, errs[0])
	}

	if code >= fiber.StatusBadRequest {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return TaskStatus{}, fmt.Errorf("scheduler: %s", errResp.Error)
		}
		return TaskStatus{}, fmt.Errorf("scheduler returned status %d", code)
	}

	var status TaskStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return TaskStatus{}, fmt.Errorf("decode task status: %w", err)
	}
	return status, nil
}
