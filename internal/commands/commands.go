// Package commands implements the operations behind the command line:
// execute a process configuration, copy tiles between tile directories and
// convert a tile directory. Each returns a job.Job with a known length that
// the caller iterates to drive the work.
package commands

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"runtime"

	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/job"
)

// MessageFunc receives progress messages meant for the user
type MessageFunc func(msg string)

func (f MessageFunc) send(format string, args ...any) {
	if f != nil {
		f(fmt.Sprintf(format, args...))
	}
}

// SelectConcurrency picks the executor backend for a run over tiles tiles
// on multi workers. A configured scheduler always wins; a single tile or a
// single worker runs in the calling goroutine.
func SelectConcurrency(tiles, multi int, distributed bool) executor.Concurrency {
	switch {
	case distributed:
		return executor.ConcurrencyDistributed
	case tiles == 1 || multi <= 1:
		return executor.ConcurrencyNone
	default:
		return executor.ConcurrencyProcesses
	}
}

// DefaultWorkers is the worker count used when none is given
func DefaultWorkers() int {
	return runtime.NumCPU()
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// executorOptions translates the worker knobs into executor options
func executorOptions(multi, maxChunksize int, scheduler string) []executor.Option {
	opts := []executor.Option{executor.WithMaxWorkers(multi)}
	if maxChunksize > 0 {
		opts = append(opts, executor.WithMaxChunksize(maxChunksize))
	}
	if scheduler != "" {
		opts = append(opts, executor.WithSchedulerAddress(scheduler))
	}
	return opts
}

// withMessages reports every record of seq through msg after it was consumed
func withMessages(gen job.Generator, msg MessageFunc) job.Generator {
	if msg == nil {
		return gen
	}
	return func(ctx context.Context, ex executor.Executor) iter.Seq2[job.ProcessInfo, error] {
		return func(yield func(job.ProcessInfo, error) bool) {
			for info, err := range gen(ctx, ex) {
				if !yield(info, err) {
					return
				}
				if err == nil {
					msg.send("Tile %s: %s, %s", info.ID, info.ProcessMsg, info.WriteMsg)
				}
			}
		}
	}
}
