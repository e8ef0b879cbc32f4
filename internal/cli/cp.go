package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aryankumar/tilebatch/internal/commands"
	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/tile"
	"github.com/aryankumar/tilebatch/internal/util"
)

func newCopyCmd() *cobra.Command {
	var (
		zoom        string
		bounds      string
		overwrite   bool
		workers     int
		concurrency string
		noPbar      bool
		wide        bool
	)

	cmd := &cobra.Command{
		Use:   "cp SRC DST",
		Short: "Copy tiles between tile directories",
		Long: `Copy the tiles of a tile directory into another one.

The destination receives the source metadata if it has none yet. Tiles that
already exist in the destination are kept unless --overwrite is given.`,
		Example: `  # Copy zoom levels 0 to 8
  tilebatch cp ./tiles /mnt/backup/tiles -z 0,8

  # Copy one zoom level inside a bounding box, replacing existing tiles
  tilebatch cp ./tiles ./subset -z 5 -b 10,40,20,50 --overwrite`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if zoom == "" {
				return util.NewValidationError("zoom", "", "--zoom is required")
			}
			z, err := tile.ParseZoom(zoom)
			if err != nil {
				return err
			}
			opts := commands.CopyOptions{
				Source:      args[0],
				Destination: args[1],
				Zoom:        &z,
				Overwrite:   overwrite,
				Workers:     workers,
				Scheduler:   viper.GetString("scheduler"),
			}
			if bounds != "" {
				b, err := tile.ParseBounds(bounds)
				if err != nil {
					return err
				}
				opts.Bounds = &b
			}
			c, err := executor.ParseConcurrency(concurrency)
			if err != nil {
				return err
			}
			opts.Concurrency = c
			if opts.Scheduler != "" {
				opts.Concurrency = executor.ConcurrencyDistributed
			}

			runner := newJobRunner(cmd, noPbar, wide)
			opts.MessageFunc = runner.messageFunc()
			j, err := commands.Copy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return runner.run(j)
		},
	}

	cmd.Flags().StringVarP(&zoom, "zoom", "z", "", "single zoom level or min,max (required)")
	cmd.Flags().StringVarP(&bounds, "bounds", "b", "", "left,bottom,right,top in pyramid CRS")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing destination tiles")
	cmd.Flags().IntVarP(&workers, "workers", "w", commands.DefaultWorkers(), "number of concurrent copies")
	cmd.Flags().StringVar(&concurrency, "concurrency", string(executor.ConcurrencyThreads), "executor backend (none, threads, processes)")
	cmd.Flags().BoolVar(&noPbar, "no-pbar", false, "do not draw a progress bar")
	cmd.Flags().BoolVar(&wide, "wide", false, "show copy messages in table output")

	return cmd
}
