package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/output"
	"github.com/aryankumar/tilebatch/internal/process"
	"github.com/aryankumar/tilebatch/internal/tiledir"
)

var shells = []string{"bash", "zsh", "fish", "powershell"}

// newCompletionCmd creates the completion command for generating shell completions
func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a shell completion script for tilebatch.

Besides commands and flags, the script completes process configuration files
for execute, tile directories for cp and convert, and the accepted values of
--output, --mode, --format and --concurrency.

Bash:
  $ source <(tilebatch completion bash)

Zsh:
  $ tilebatch completion zsh > "${fpath[1]}/_tilebatch"

Fish:
  $ tilebatch completion fish > ~/.config/fish/completions/tilebatch.fish

PowerShell:
  PS> tilebatch completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             shells,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		// No config file or logging setup needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompletion(cmd, args[0])
		},
	}

	return cmd
}

// runCompletion generates the completion script for the specified shell
func runCompletion(cmd *cobra.Command, shell string) error {
	w := cmd.OutOrStdout()
	switch shell {
	case "bash":
		return cmd.Root().GenBashCompletionV2(w, true)
	case "zsh":
		return cmd.Root().GenZshCompletion(w)
	case "fish":
		return cmd.Root().GenFishCompletion(w, true)
	case "powershell":
		return cmd.Root().GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unsupported shell type %q", shell)
	}
}

type completionFunc = func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective)

// registerCompletions wires argument and flag value completion into the
// command tree below root
func registerCompletions(root *cobra.Command) {
	completeFlag(root, "output", values(string(output.FormatTable), string(output.FormatJSON), string(output.FormatYAML)))

	for _, cmd := range root.Commands() {
		switch cmd.Name() {
		case "execute":
			cmd.ValidArgsFunction = processConfigArg
			completeFlag(cmd, "mode", values(string(process.ModeContinue), string(process.ModeOverwrite), string(process.ModeReadonly)))
		case "cp":
			cmd.ValidArgsFunction = tileDirArgs
			completeFlag(cmd, "concurrency", values(string(executor.ConcurrencyNone), string(executor.ConcurrencyThreads), string(executor.ConcurrencyProcesses)))
		case "convert":
			cmd.ValidArgsFunction = tileDirArgs
			completeFlag(cmd, "format", values(string(tiledir.FormatJSON), string(tiledir.FormatYAML)))
		}
	}
}

// completeFlag registers fn for a flag of cmd. A missing flag is a bug in
// the command tree.
func completeFlag(cmd *cobra.Command, name string, fn completionFunc) {
	if err := cmd.RegisterFlagCompletionFunc(name, fn); err != nil {
		panic(fmt.Sprintf("completion for %s --%s: %v", cmd.Name(), name, err))
	}
}

func values(vs ...string) completionFunc {
	return cobra.FixedCompletions(vs, cobra.ShellCompDirectiveNoFileComp)
}

// processConfigArg completes the CONFIG argument of execute with YAML files
func processConfigArg(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return []string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
}

// tileDirArgs completes SRC and DST with directories
func tileDirArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) >= 2 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveFilterDirs
}
