package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aryankumar/tilebatch/internal/util"
)

// processPool runs tasks in long-lived worker processes.
// Each worker is the current executable started in worker mode; it reads
// JSON task lines on stdin and answers on stdout. Every worker owns
// maxChunksize slots, so at most that many requests are outstanding per worker.
type processPool struct {
	base

	command   []string
	chunksize int
	procs     []*workerProc

	// slots holds one token per free request slot
	slots chan *workerProc

	alive   atomic.Int32
	allDead chan struct{}

	// killing is set once Close gave up waiting and kills the workers
	killing atomic.Bool
}

// workerProc is one worker process and its outstanding requests
type workerProc struct {
	id     int
	pool   *processPool
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex

	mu      sync.Mutex
	dead    bool
	pending map[int64]*dispatch

	exited chan struct{}
}

// dispatch is an outstanding request and how to hand its future back
type dispatch struct {
	f    *Future
	done func(*Future)
}

func newProcessPool(o *options) (*processPool, error) {
	command := o.workerCommand
	if len(command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: resolve worker executable: %v", util.ErrBackendUnavailable, err)
		}
		command = []string{exe}
	}

	workers := max(o.maxWorkers, 1)
	chunksize := max(o.maxChunksize, 1)

	p := &processPool{
		command:   command,
		chunksize: chunksize,
		slots:     make(chan *workerProc, workers*chunksize),
		allDead:   make(chan struct{}),
	}
	p.init(ConcurrencyProcesses, o)

	for i := 0; i < workers; i++ {
		w, err := p.spawn(i)
		if err != nil {
			p.killing.Store(true)
			p.closed.Store(true)
			p.stopWorkers(0)
			return nil, fmt.Errorf("%w: start worker %d: %v", util.ErrBackendUnavailable, i, err)
		}
		p.procs = append(p.procs, w)
		for j := 0; j < chunksize; j++ {
			p.slots <- w
		}
	}

	p.logger.Debug("process pool started", "workers", workers, "chunksize", chunksize, "command", command[0])
	return p, nil
}

// spawn starts one worker process
func (p *processPool) spawn(id int) (*workerProc, error) {
	cmd := exec.Command(p.command[0], p.command[1:]...)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &workerProc{
		id:      id,
		pool:    p,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]*dispatch),
		exited:  make(chan struct{}),
	}
	p.alive.Add(1)
	go w.readLoop()

	p.logger.Debug("worker started", "worker_id", id, "pid", cmd.Process.Pid)
	return w, nil
}

// AsCompleted dispatches items to free worker slots and yields futures as
// responses arrive. Items waiting for a slot are pending futures.
func (p *processPool) AsCompleted(ctx context.Context, fn Func, items iter.Seq[any], opts ...CallOption) iter.Seq[*Future] {
	params := NewParams(opts...)

	return func(yield func(*Future) bool) {
		if p.stopped(ctx) {
			return
		}

		name, err := registeredName(fn)
		if err != nil {
			p.failAll(ctx, items, err, yield)
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
		p.inflight.Add(1)
		go p.feed(ctx, name, items, params, call, done, &wg)

		go func() {
			wg.Wait()
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

// feed tracks items and sends each one to a worker slot
func (p *processPool) feed(
	ctx context.Context,
	name string,
	items iter.Seq[any],
	params Params,
	call *callState,
	done func(*Future),
	wg *sync.WaitGroup,
) {
	defer p.inflight.Done()
	defer wg.Done()

	for item := range items {
		if p.stopped(ctx) || call.left() {
			p.logger.Debug("submission stopped")
			return
		}

		f := p.track(item)
		call.add(f)

		w := p.acquire(f, call)
		if w == nil {
			if f.Done() {
				// Cancelled while waiting for a slot
				continue
			}
			if call.left() {
				f.cancel(false)
				return
			}
			wg.Add(1)
			f.complete(nil, fmt.Errorf("no worker process left: %w", util.ErrWorkerLost))
			done(f)
			continue
		}

		if !f.markRunning() {
			p.slots <- w
			continue
		}

		line, err := json.Marshal(workerRequest{ID: f.id, Func: name, Item: item, Params: params})
		if err != nil {
			p.slots <- w
			wg.Add(1)
			f.complete(nil, fmt.Errorf("encode task: %w", err))
			done(f)
			continue
		}

		wg.Add(1)
		if err := w.send(f.id, line, &dispatch{f: f, done: done}); err != nil {
			f.complete(nil, err)
			done(f)
		}
	}
}

// acquire waits for a free slot on a live worker.
// Returns nil when f is cancelled, the consumer left or every worker died.
func (p *processPool) acquire(f *Future, call *callState) *workerProc {
	for {
		select {
		case w := <-p.slots:
			if w.isDead() {
				continue
			}
			return w
		case <-p.allDead:
			return nil
		case <-f.Ready():
			return nil
		case <-call.quit:
			return nil
		}
	}
}

// send registers the request and writes it to the worker's stdin
func (w *workerProc) send(id int64, line []byte, d *dispatch) error {
	w.mu.Lock()
	if w.dead {
		w.mu.Unlock()
		return fmt.Errorf("worker %d: %w", w.id, util.ErrWorkerLost)
	}
	w.pending[id] = d
	w.mu.Unlock()

	w.writeMu.Lock()
	_, err := w.stdin.Write(append(line, '\n'))
	w.writeMu.Unlock()
	if err == nil {
		return nil
	}

	w.mu.Lock()
	_, ok := w.pending[id]
	delete(w.pending, id)
	w.mu.Unlock()
	if !ok {
		// readLoop already failed it
		return nil
	}
	return fmt.Errorf("worker %d: send task: %v: %w", w.id, err, util.ErrWorkerLost)
}

func (w *workerProc) isDead() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dead
}

// readLoop completes futures from worker responses until stdout closes,
// then reaps the process and fails whatever was still outstanding
func (w *workerProc) readLoop() {
	defer close(w.exited)
	p := w.pool

	dec := json.NewDecoder(bufio.NewReader(w.stdout))
	for {
		var resp workerResponse
		if err := dec.Decode(&resp); err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("worker output unreadable", "worker_id", w.id, "error", err)
			}
			break
		}

		w.mu.Lock()
		d := w.pending[resp.ID]
		delete(w.pending, resp.ID)
		w.mu.Unlock()
		if d == nil {
			p.logger.Warn("response for unknown task", "worker_id", w.id, "task", resp.ID)
			continue
		}

		d.f.complete(decodeResponse(resp))
		p.slots <- w
		d.done(d.f)
	}

	err := w.cmd.Wait()

	w.mu.Lock()
	w.dead = true
	orphans := w.pending
	w.pending = nil
	w.mu.Unlock()

	killed := p.killing.Load()
	for _, d := range orphans {
		if killed {
			d.f.cancel(true)
		} else {
			d.f.complete(nil, fmt.Errorf("worker %d: %w", w.id, util.ErrWorkerLost))
		}
		d.done(d.f)
	}

	if !p.closed.Load() {
		p.logger.Error("worker process exited unexpectedly", "worker_id", w.id, "error", err, "lost_tasks", len(orphans))
	} else {
		p.logger.Debug("worker exited", "worker_id", w.id)
	}

	if p.alive.Add(-1) == 0 {
		close(p.allDead)
	}
}

func decodeResponse(resp workerResponse) (any, error) {
	if resp.Error != "" {
		return nil, remoteError(resp.Error)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	return result, nil
}

// Close cancels pending futures and closes the workers' stdin so they exit
// after their current request. Workers still running after the grace period
// are killed and their futures become cancelled.
func (p *processPool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.logger.Debug("shutting down process pool")
		p.closed.Store(true)
		p.cancelPending(p.Futures())
		err = p.stopWorkers(p.grace)
		p.runCancel()

		if !waitTimeout(&p.inflight, p.grace) {
			p.logger.Warn("dispatchers still running after shutdown")
		}
	})
	return err
}

// stopWorkers closes every worker's input and waits up to grace for them
// to exit before killing the rest
func (p *processPool) stopWorkers(grace time.Duration) error {
	for _, w := range p.procs {
		w.writeMu.Lock()
		_ = w.stdin.Close()
		w.writeMu.Unlock()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	var killed int
	expired := false
	for _, w := range p.procs {
		if !expired {
			select {
			case <-w.exited:
				continue
			case <-timer.C:
				expired = true
			}
		}
		select {
		case <-w.exited:
			continue
		default:
		}

		p.killing.Store(true)
		if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Debug("kill worker", "worker_id", w.id, "error", err)
		}
		<-w.exited
		killed++
	}

	if killed > 0 {
		p.logger.Warn("killed worker processes after shutdown grace period", "killed", killed, "grace", grace)
		return fmt.Errorf("%d worker processes killed after %s: %w", killed, grace, util.ErrTimeout)
	}
	return nil
}
