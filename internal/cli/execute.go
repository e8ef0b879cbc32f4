package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aryankumar/tilebatch/internal/commands"
	"github.com/aryankumar/tilebatch/internal/process"
)

func newExecuteCmd() *cobra.Command {
	var (
		sel       selectionFlags
		workers   workerFlags
		overwrite bool
		mode      string
		noPbar    bool
		wide      bool
	)

	cmd := &cobra.Command{
		Use:   "execute CONFIG",
		Short: "Execute a process configuration",
		Long: `Execute runs the process function of a configuration file over every
tile of the configured zoom levels and area and writes the results to the
output tile directory.

Tiles whose output already exists are skipped unless --overwrite is given.`,
		Example: `  # Process everything the configuration describes
  tilebatch execute process.yaml

  # Process zoom levels 3 to 5 inside a bounding box on 4 workers
  tilebatch execute process.yaml -z 3,5 -b 10,40,20,50 -m 4

  # Reprocess a single tile
  tilebatch execute process.yaml -t 5/10/33 --overwrite

  # Run the tiles on a scheduler
  tilebatch execute process.yaml --scheduler http://localhost:8786`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.parse()
			if err != nil {
				return err
			}
			m, err := process.ParseMode(mode)
			if err != nil {
				return err
			}

			runner := newJobRunner(cmd, noPbar, wide)
			j, err := commands.Execute(cmd.Context(), commands.ExecuteOptions{
				Config:       args[0],
				Zoom:         s.Zoom,
				Bounds:       s.Bounds,
				Point:        s.Point,
				Tile:         s.Tile,
				Overwrite:    overwrite,
				Mode:         m,
				Multi:        workers.multi,
				MaxChunksize: workers.maxChunksize,
				Scheduler:    viper.GetString("scheduler"),
				MessageFunc:  runner.messageFunc(),
			})
			if err != nil {
				return err
			}
			return runner.run(j)
		},
	}

	sel.register(cmd.Flags())
	workers.register(cmd.Flags())
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing output")
	cmd.Flags().StringVar(&mode, "mode", string(process.ModeContinue), "process mode (continue, overwrite, readonly)")
	cmd.Flags().BoolVar(&noPbar, "no-pbar", false, "do not draw a progress bar")
	cmd.Flags().BoolVar(&wide, "wide", false, "show process and write messages in table output")

	return cmd
}
