package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aryankumar/tilebatch/internal/commands"
	"github.com/aryankumar/tilebatch/internal/job"
	"github.com/aryankumar/tilebatch/internal/output"
	"github.com/aryankumar/tilebatch/internal/util"
)

// jobRunner drives a Job to completion, drawing a progress bar on stderr
// and printing the results on stdout
type jobRunner struct {
	cmd   *cobra.Command
	noBar bool
	wide  bool

	mu  sync.Mutex
	bar *output.Bar
}

func newJobRunner(cmd *cobra.Command, noBar, wide bool) *jobRunner {
	return &jobRunner{cmd: cmd, noBar: noBar, wide: wide}
}

// messageFunc returns the callback for progress messages. Messages are only
// printed in verbose mode.
func (r *jobRunner) messageFunc() commands.MessageFunc {
	if !viper.GetBool("verbose") {
		return nil
	}
	return r.message
}

func (r *jobRunner) message(msg string) {
	r.mu.Lock()
	bar := r.bar
	r.mu.Unlock()
	if bar != nil {
		bar.Println(msg)
		return
	}
	fmt.Fprintln(r.cmd.ErrOrStderr(), msg)
}

func (r *jobRunner) run(j *job.Job) error {
	defer func() {
		if err := j.Close(); err != nil {
			slog.Debug("job close", "error", err)
		}
	}()

	format, err := output.ParseFormat(viper.GetString("output"))
	if err != nil {
		return err
	}
	formatter := output.NewFormatter(format,
		output.WithNoColor(viper.GetBool("no-color")),
		output.WithNoHeaders(viper.GetBool("no-headers")),
		output.WithWide(r.wide),
	)

	bar := output.NewBar(r.cmd.ErrOrStderr(), j.Len(), !r.noBar)
	r.mu.Lock()
	r.bar = bar
	r.mu.Unlock()

	ctx := r.cmd.Context()
	results := make([]output.Result, 0, j.Len())
	failed := 0
	var releaseErr *util.ReleaseError
	for info, err := range j.All(ctx) {
		// releasing the process is not a tile outcome
		if errors.As(err, &releaseErr) {
			continue
		}
		if err != nil {
			failed++
		}
		results = append(results, output.NewResult(info, err))
		bar.Increment()
	}

	bar.Finish()
	r.mu.Lock()
	r.bar = nil
	r.mu.Unlock()

	if err := formatter.FormatResults(r.cmd.OutOrStdout(), results); err != nil {
		return util.WrapErrorf(err, "failed to format %d results", len(results))
	}

	switch {
	case failed > 0:
		return fmt.Errorf("%d of %d tile(s) failed: %w", failed, len(results), j.Err())
	case releaseErr != nil:
		return fmt.Errorf("all %d tile(s) finished but %w", len(results), releaseErr)
	case ctx.Err() != nil:
		return fmt.Errorf("interrupted after %d of %d tile(s), %d cancelled: %w",
			len(results), j.Len(), j.Tasks().Cancelled, ctx.Err())
	}
	return nil
}
