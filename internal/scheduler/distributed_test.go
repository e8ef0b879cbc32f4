package scheduler

import (
	"context"
	"errors"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/util"
)

func squareFunc(t *testing.T) executor.Func {
	t.Helper()
	fn, ok := executor.Lookup("sched.square")
	require.True(t, ok)
	return fn
}

// startScheduler serves a scheduler on a random local port
func startScheduler(t *testing.T, workers int) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(&Config{Workers: workers, Logger: quietLogger()})
	go func() {
		_ = s.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = s.Shutdown(2 * time.Second)
	})

	return "http://" + ln.Addr().String()
}

func newDistributed(t *testing.T, address string, opts ...executor.Option) executor.Executor {
	t.Helper()
	opts = append([]executor.Option{
		executor.WithSchedulerAddress(address),
		executor.WithLogger(quietLogger()),
	}, opts...)

	ex, err := executor.New(context.Background(), executor.ConcurrencyDistributed, opts...)
	require.NoError(t, err)
	return ex
}

func TestDistributed_AllComplete(t *testing.T) {
	address := startScheduler(t, 4)
	ex := newDistributed(t, address, executor.WithMaxWorkers(2))
	defer ex.Close()

	seen := make(map[int]bool)
	for f := range ex.AsCompleted(context.Background(), squareFunc(t), executor.Range(20)) {
		v, err := f.Result()
		require.NoError(t, err)

		n := cast.ToInt(f.Item())
		assert.Equal(t, n*n, cast.ToInt(v))
		seen[n] = true
	}
	assert.Len(t, seen, 20)
	assert.Equal(t, executor.ConcurrencyDistributed, ex.Concurrency())
}

func TestDistributed_TaskFailure(t *testing.T) {
	address := startScheduler(t, 2)
	ex := newDistributed(t, address)
	defer ex.Close()

	fail, ok := executor.Lookup("sched.fail")
	require.True(t, ok)

	futures := slices.Collect(ex.AsCompleted(context.Background(), fail, executor.Range(3)))
	require.Len(t, futures, 3)
	for _, f := range futures {
		_, err := f.Result()
		require.Error(t, err)
		assert.True(t, util.IsTaskError(err))
		assert.Contains(t, err.Error(), "tile is corrupt")
	}
}

func TestDistributed_CancelAfterFirstResult(t *testing.T) {
	address := startScheduler(t, 1)
	ex := newDistributed(t, address, executor.WithMaxWorkers(1))

	sleep, ok := executor.Lookup("sched.sleep")
	require.True(t, ok)

	first := true
	seq := ex.AsCompleted(context.Background(), sleep, executor.Range(50), executor.WithKwarg("sleep", "50ms"))
	for f := range seq {
		assert.False(t, f.Cancelled(), "cancelled futures must not be yielded")
		if first {
			first = false
			ex.Cancel()
		}
	}
	require.NoError(t, ex.Close())

	futures := ex.Futures()
	assert.GreaterOrEqual(t, executor.CountByState(futures)[executor.StateCancelled], 1)
	assert.Less(t, len(futures), 50)
	for _, f := range futures {
		assert.True(t, f.Done(), "future %d left %s", f.ID(), f.State())
	}
}

func TestDistributed_CloseCancelsRemoteTasks(t *testing.T) {
	address := startScheduler(t, 2)
	ex := newDistributed(t, address, executor.WithMaxWorkers(2))

	block, ok := executor.Lookup("sched.block")
	require.True(t, ok)

	seq := ex.AsCompleted(context.Background(), block, executor.Range(2))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range seq {
		}
	}()

	require.Eventually(t, func() bool {
		return len(ex.Futures()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ex.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("iteration did not end after cancel")
	}
	require.NoError(t, ex.Close())

	for _, f := range ex.Futures() {
		assert.True(t, f.Cancelled(), "remote task should be cancelled, got %s", f.State())
	}
}

func TestDistributed_UnregisteredFunction(t *testing.T) {
	address := startScheduler(t, 1)
	ex := newDistributed(t, address)
	defer ex.Close()

	closure := func(ctx context.Context, item any, p executor.Params) (any, error) { return item, nil }
	for f := range ex.AsCompleted(context.Background(), closure, executor.Range(2)) {
		_, err := f.Result()
		assert.True(t, errors.Is(err, util.ErrUnregisteredFunc), "got %v", err)
	}
}
