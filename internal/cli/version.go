package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aryankumar/tilebatch/internal/output"
	"github.com/aryankumar/tilebatch/pkg/version"
)

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Display detailed version information for tilebatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd)
		},
	}

	return cmd
}

func runVersion(cmd *cobra.Command) error {
	info := version.Get()
	w := cmd.OutOrStdout()

	name := viper.GetString("output")
	if name == "" {
		fmt.Fprintln(w, info.String())
		return nil
	}
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}

	formatter := output.NewFormatter(format, output.WithNoColor(viper.GetBool("no-color")))
	if format == output.FormatTable {
		return formatter.Format(w, map[string]interface{}{
			"Version":    info.Version,
			"Commit":     info.Commit,
			"Build Time": info.BuildTime,
			"Go Version": info.GoVersion,
			"Platform":   info.Platform,
		})
	}
	if err := formatter.Format(w, info); err != nil {
		return fmt.Errorf("failed to format version info: %w", err)
	}
	return nil
}
