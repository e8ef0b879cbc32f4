package executor

import (
	"context"
	"iter"
)

// sequential runs every task inline on the consumer's goroutine
type sequential struct {
	base
}

func newSequential(o *options) *sequential {
	s := &sequential{}
	s.init(ConcurrencyNone, o)
	return s
}

// AsCompleted runs one item at a time in input order, so completion order
// equals input order. A cancel between two yields stops the remaining items.
func (s *sequential) AsCompleted(ctx context.Context, fn Func, items iter.Seq[any], opts ...CallOption) iter.Seq[*Future] {
	params := NewParams(opts...)

	return func(yield func(*Future) bool) {
		tctx, release := s.taskContext(ctx)
		defer release()

		for item := range items {
			if s.stopped(ctx) {
				s.logger.Debug("submission stopped")
				return
			}

			f := s.track(item)
			if !f.markRunning() {
				continue
			}
			runTask(tctx, fn, f, params, s.logger)

			if !yield(f) {
				return
			}
		}
	}
}

// Close marks the executor closed; there is no backend to tear down
func (s *sequential) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.shutdown()
	})
	return err
}
