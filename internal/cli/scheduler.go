package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/aryankumar/tilebatch/internal/scheduler"
)

func newSchedulerCmd() *cobra.Command {
	cfg := scheduler.DefaultConfig()
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run a task scheduler for distributed execution",
		Long: `Run an HTTP task scheduler. Commands started with --scheduler submit
their tiles to it instead of running them locally.

The scheduler runs registered task functions only, so it must be built from
the same binary as the submitting commands.`,
		Example: `  # Listen on the default address with one slot per CPU
  tilebatch scheduler

  # Listen on port 9000 with 16 slots
  tilebatch scheduler --listen :9000 --workers 16`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return scheduler.NewServer(cfg).StartWithContext(cmd.Context(), grace)
		},
	}

	cmd.Flags().StringVar(&cfg.Address, "listen", cfg.Address, "address to listen on")
	cmd.Flags().IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "number of tasks run concurrently")
	cmd.Flags().DurationVar(&cfg.MaxWait, "max-wait", cfg.MaxWait, "longest poll a client may request")
	cmd.Flags().DurationVar(&cfg.Retention, "retention", cfg.Retention, "how long finished tasks stay queryable")
	cmd.Flags().DurationVar(&grace, "shutdown-grace", 10*time.Second, "time running tasks get on shutdown")

	return cmd
}
