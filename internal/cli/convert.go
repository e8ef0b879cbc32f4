package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aryankumar/tilebatch/internal/commands"
)

func newConvertCmd() *cobra.Command {
	var (
		sel       selectionFlags
		workers   workerFlags
		format    string
		overwrite bool
		noPbar    bool
		wide      bool
	)

	cmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Convert a tile directory",
		Long: `Convert re-encodes the tiles of a tile directory into a new tile
directory, optionally restricted to some zoom levels or an area.

The output format is taken from --format, else guessed from the output
path, else copied from the source.`,
		Example: `  # Re-encode every tile as YAML
  tilebatch convert ./tiles ./tiles-yaml --format yaml

  # Convert a subset on 8 workers
  tilebatch convert ./tiles ./subset -z 0,6 -b 0,0,90,90 -m 8`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.parse()
			if err != nil {
				return err
			}

			runner := newJobRunner(cmd, noPbar, wide)
			j, err := commands.Convert(cmd.Context(), commands.ConvertOptions{
				Source:       args[0],
				Output:       args[1],
				Format:       format,
				Zoom:         s.Zoom,
				Bounds:       s.Bounds,
				Point:        s.Point,
				Tile:         s.Tile,
				Overwrite:    overwrite,
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
	cmd.Flags().StringVarP(&format, "format", "f", "", "output tile format (json, yaml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing output")
	cmd.Flags().BoolVar(&noPbar, "no-pbar", false, "do not draw a progress bar")
	cmd.Flags().BoolVar(&wide, "wide", false, "show process and write messages in table output")

	return cmd
}
