package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/util"
)

// countingCloser records how often it was closed
type countingCloser struct {
	closed atomic.Int32
	err    error
}

func (c *countingCloser) Close() error {
	c.closed.Add(1)
	return c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func plusOne(ctx context.Context, item any, p executor.Params) (any, error) {
	n := cast.ToInt(item)
	if fail := p.Int("fail", -1); fail == n {
		return nil, fmt.Errorf("item %d is broken", n)
	}
	return n + 1, nil
}

// countGen runs plusOne over n items and reports each result as a record
func countGen(n int, opts ...executor.CallOption) Generator {
	return func(ctx context.Context, ex executor.Executor) iter.Seq2[ProcessInfo, error] {
		return func(yield func(ProcessInfo, error) bool) {
			for f := range ex.AsCompleted(ctx, plusOne, executor.Range(n), opts...) {
				v, err := f.Result()
				info := ProcessInfo{
					ID:         cast.ToString(f.Item()),
					Processed:  err == nil,
					ProcessMsg: fmt.Sprintf("result %v", v),
					Duration:   f.Duration(),
				}
				if !yield(info, err) {
					return
				}
			}
		}
	}
}

func newJob(gen Generator, closer io.Closer, total int, c executor.Concurrency) *Job {
	return New(gen,
		WithTotal(total),
		WithConcurrency(c),
		WithCloser(closer),
		WithLogger(quietLogger()),
		WithExecutorOptions(executor.WithMaxWorkers(2)),
	)
}

func TestJob_ReleasedOnceOnCompletion(t *testing.T) {
	for _, c := range []executor.Concurrency{executor.ConcurrencyNone, executor.ConcurrencyThreads} {
		t.Run(string(c), func(t *testing.T) {
			closer := &countingCloser{}
			j := newJob(countGen(10), closer, 10, c)

			infos, err := j.Collect(context.Background())
			require.NoError(t, err)
			assert.Len(t, infos, 10)
			assert.Equal(t, int32(1), closer.closed.Load())

			require.NoError(t, j.Close())
			assert.Equal(t, int32(1), closer.closed.Load())
		})
	}
}

func TestJob_SequentialOrder(t *testing.T) {
	j := newJob(countGen(10), nil, 10, executor.ConcurrencyNone)

	infos, err := j.Collect(context.Background())
	require.NoError(t, err)

	var got []string
	for _, info := range infos {
		got = append(got, info.ProcessMsg)
	}
	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("result %d", i+1)
	}
	assert.Equal(t, want, got)
}

func TestJob_ReleasedOnceOnTaskFailure(t *testing.T) {
	closer := &countingCloser{}
	j := newJob(countGen(10, executor.WithKwarg("fail", 3)), closer, 10, executor.ConcurrencyNone)

	var seen int
	var failure error
	for _, err := range j.All(context.Background()) {
		seen++
		if err != nil {
			failure = err
			break
		}
	}

	require.Error(t, failure)
	assert.True(t, util.IsTaskError(failure))
	assert.Contains(t, failure.Error(), "item 3 is broken")
	assert.Equal(t, 4, seen)
	assert.Equal(t, int32(1), closer.closed.Load())
	assert.Equal(t, failure, j.Err())
}

func TestJob_FailuresDoNotStopSiblings(t *testing.T) {
	j := newJob(countGen(6, executor.WithKwarg("fail", 2)), nil, 6, executor.ConcurrencyThreads)

	assert.Zero(t, j.Tasks().Total)

	infos, err := j.Collect(context.Background())
	require.Error(t, err)
	assert.Len(t, infos, 5)

	tasks := j.Tasks()
	assert.Equal(t, 6, tasks.Total)
	assert.Equal(t, 5, tasks.Completed)
	assert.Equal(t, 1, tasks.Failed)
	assert.Zero(t, tasks.Cancelled)
}

func TestJob_ReleasedOnceOnEarlyExit(t *testing.T) {
	for _, c := range []executor.Concurrency{executor.ConcurrencyNone, executor.ConcurrencyThreads} {
		t.Run(string(c), func(t *testing.T) {
			closer := &countingCloser{}
			j := newJob(countGen(100), closer, 100, c)

			for range j.All(context.Background()) {
				break
			}
			assert.Equal(t, int32(1), closer.closed.Load())
			assert.NoError(t, j.Err())
		})
	}
}

func TestJob_ReleasedOnceOnExecutorFailure(t *testing.T) {
	closer := &countingCloser{}
	j := New(countGen(3),
		WithTotal(3),
		WithConcurrency(executor.ConcurrencyDistributed),
		WithCloser(closer),
		WithLogger(quietLogger()),
	)

	var errs []error
	for _, err := range j.All(context.Background()) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.True(t, util.IsBackendUnavailable(errs[0]))
	assert.Equal(t, int32(1), closer.closed.Load())
}

func TestJob_ZeroTotalSkipsExecutor(t *testing.T) {
	closer := &countingCloser{}
	invoked := false
	gen := func(ctx context.Context, ex executor.Executor) iter.Seq2[ProcessInfo, error] {
		invoked = true
		return countGen(1)(ctx, ex)
	}

	// distributed would fail without a scheduler if an executor were built
	j := New(gen, WithTotal(0), WithConcurrency(executor.ConcurrencyDistributed), WithCloser(closer), WithLogger(quietLogger()))
	assert.Equal(t, 0, j.Len())

	count := 0
	for range j.All(context.Background()) {
		count++
	}
	assert.Zero(t, count)
	assert.False(t, invoked)
	assert.Equal(t, int32(1), closer.closed.Load())
	assert.NoError(t, j.Err())
}

func TestJob_Empty(t *testing.T) {
	closer := &countingCloser{}
	j := Empty(closer)

	infos, err := j.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Equal(t, int32(1), closer.closed.Load())
}

func TestJob_LenUnaffectedByConsumption(t *testing.T) {
	j := newJob(countGen(20), nil, 20, executor.ConcurrencyThreads)
	assert.Equal(t, 20, j.Len())

	n := 0
	for range j.All(context.Background()) {
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 20, j.Len())
}

func TestJob_SingleUse(t *testing.T) {
	closer := &countingCloser{}
	j := newJob(countGen(3), closer, 3, executor.ConcurrencyNone)

	first, err := j.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 3)

	second, err := j.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, int32(1), closer.closed.Load())
}

func TestJob_CloseWithoutIterating(t *testing.T) {
	closer := &countingCloser{}
	j := newJob(countGen(3), closer, 3, executor.ConcurrencyNone)

	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.Equal(t, int32(1), closer.closed.Load())

	count := 0
	for range j.All(context.Background()) {
		count++
	}
	assert.Zero(t, count)
}

func TestJob_ReleaseFailure(t *testing.T) {
	t.Run("surfaced after a clean run", func(t *testing.T) {
		closer := &countingCloser{err: errors.New("disk full")}
		j := newJob(countGen(2), closer, 2, executor.ConcurrencyNone)

		infos, err := j.Collect(context.Background())
		assert.Len(t, infos, 2)
		require.Error(t, err)

		var re *util.ReleaseError
		assert.True(t, errors.As(err, &re))
		assert.True(t, errors.As(j.Err(), &re))
	})

	t.Run("task failure takes precedence", func(t *testing.T) {
		closer := &countingCloser{err: errors.New("disk full")}
		j := newJob(countGen(3, executor.WithKwarg("fail", 1)), closer, 3, executor.ConcurrencyNone)

		var errs []error
		for _, err := range j.All(context.Background()) {
			if err != nil {
				errs = append(errs, err)
			}
		}

		require.Len(t, errs, 1)
		assert.True(t, util.IsTaskError(errs[0]))
		assert.True(t, util.IsTaskError(j.Err()))
		assert.Equal(t, int32(1), closer.closed.Load())
	})
}

func TestJob_ContextCancelled(t *testing.T) {
	closer := &countingCloser{}
	ctx, cancel := context.WithCancel(context.Background())
	j := newJob(countGen(50), closer, 50, executor.ConcurrencyThreads)

	n := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range j.All(ctx) {
			n++
			if n == 1 {
				cancel()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop after context cancellation")
	}
	assert.LessOrEqual(t, n, 50)
	assert.Equal(t, int32(1), closer.closed.Load())
}

func TestSummarize(t *testing.T) {
	infos := []ProcessInfo{
		{ID: "a", Processed: true, Written: true, Duration: 10 * time.Millisecond},
		{ID: "b", Processed: true, Written: true, Duration: 20 * time.Millisecond},
		{ID: "c", Processed: true, Duration: 30 * time.Millisecond},
		{ID: "d", Duration: time.Millisecond},
	}

	s := Summarize(infos)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.Processed)
	assert.Equal(t, 2, s.Written)
	assert.Equal(t, 1, s.Skipped)
	assert.InDelta(t, float64(30*time.Millisecond), float64(s.Max), float64(100*time.Microsecond))
	assert.LessOrEqual(t, s.P50, s.P90)
	assert.Contains(t, s.String(), "4 tiles")

	assert.Equal(t, Summary{}, Summarize(nil))
}
