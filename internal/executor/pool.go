package executor

import (
	"context"
	"iter"
	"sync"
)

// threadPool runs tasks on a bounded set of worker goroutines.
// Results come back in completion order.
type threadPool struct {
	base

	// workers is the number of concurrent workers
	workers int
}

func newThreadPool(o *options) *threadPool {
	workers := o.maxWorkers
	if workers <= 0 {
		workers = 1
	}

	p := &threadPool{workers: workers}
	p.init(ConcurrencyThreads, o)
	p.logger.Debug("thread pool started", "workers", workers)
	return p
}

// AsCompleted feeds items to the workers through a queue holding at most one
// pending future per worker. Pending futures in the queue are what Cancel and
// an early exit from the range loop cancel.
func (p *threadPool) AsCompleted(ctx context.Context, fn Func, items iter.Seq[any], opts ...CallOption) iter.Seq[*Future] {
	params := NewParams(opts...)

	return func(yield func(*Future) bool) {
		if p.stopped(ctx) {
			return
		}

		call := newCallState()
		queue := make(chan *Future, p.workers)
		results := make(chan *Future)
		tctx, release := p.taskContext(ctx)

		p.logger.Debug("starting workers", "count", p.workers)

		var wg sync.WaitGroup
		p.inflight.Add(1)
		go p.feed(ctx, items, call, queue)

		for i := 0; i < p.workers; i++ {
			wg.Add(1)
			p.inflight.Add(1)
			go p.worker(tctx, i, fn, params, queue, results, call, &wg)
		}

		go func() {
			wg.Wait()
			release()
			close(results)
		}()

		defer func() {
			close(call.quit)
			p.cancelPending(call.snapshot())
		}()

		for f := range results {
			if !yield(f) {
				return
			}
		}
	}
}

// feed tracks each item as a pending future and queues it for the workers
func (p *threadPool) feed(ctx context.Context, items iter.Seq[any], call *callState, queue chan<- *Future) {
	defer p.inflight.Done()
	defer close(queue)

	for item := range items {
		if p.stopped(ctx) || call.left() {
			p.logger.Debug("submission stopped")
			return
		}

		f := p.track(item)
		call.add(f)

		select {
		case queue <- f:
		case <-call.quit:
			f.cancel(false)
			return
		}
	}
}

// worker runs queued futures until the queue is closed
func (p *threadPool) worker(
	ctx context.Context,
	workerID int,
	fn Func,
	params Params,
	queue <-chan *Future,
	results chan<- *Future,
	call *callState,
	wg *sync.WaitGroup,
) {
	defer p.inflight.Done()
	defer wg.Done()

	for f := range queue {
		if ctx.Err() != nil || call.left() {
			f.cancel(false)
			continue
		}
		if !f.markRunning() {
			// Cancelled while queued
			continue
		}

		runTask(ctx, fn, f, params, p.logger.With("worker_id", workerID))
		call.deliver(results, f)
	}

	p.logger.Debug("worker finished (no more tasks)", "worker_id", workerID)
}

// Close stops submission and waits for running tasks up to the grace period.
// Running goroutines cannot be preempted; their context is cancelled instead.
func (p *threadPool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.logger.Debug("shutting down thread pool")
		err = p.shutdown()
	})
	return err
}
