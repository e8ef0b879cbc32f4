// Package executor runs a function over a stream of items on a pluggable
// backend and yields one Future per item as tasks complete.
//
// # Backends
//
//   - none: tasks run inline on the consuming goroutine, in input order
//   - threads: a bounded goroutine pool
//   - processes: worker processes re-executing the current binary
//   - distributed: a tilebatch scheduler reached over HTTP
//
// # Basic Usage
//
//	ex, err := executor.New(ctx, executor.ConcurrencyThreads, executor.WithMaxWorkers(4))
//	if err != nil {
//	    return err
//	}
//	defer ex.Close()
//
//	for f := range ex.AsCompleted(ctx, square, executor.Range(10)) {
//	    v, err := f.Result()
//	    ...
//	}
//
// # Functions Across Processes
//
// The processes and distributed backends send the name of the function,
// never the function itself. Such functions must be registered from an init
// function, and item, params and result travel as JSON:
//
//	func init() {
//	    executor.Register("square", square)
//	}
//
// Binaries using the processes backend must hand control to the worker loop
// before anything else in main (and in TestMain):
//
//	if executor.IsWorkerProcess() {
//	    os.Exit(executor.RunWorker())
//	}
//
// # Cancellation
//
// Cancel stops submission and cancels futures that have not started. Leaving
// a range loop over AsCompleted does the same for the futures of that call.
// Running tasks are never interrupted by Cancel, except on the distributed
// backend where the scheduler cancels the task context. Close waits for
// running tasks up to the shutdown grace period; the processes backend then
// kills its workers and reports their tasks as cancelled.
package executor
