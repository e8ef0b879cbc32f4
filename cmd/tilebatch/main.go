package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aryankumar/tilebatch/internal/cli"
	"github.com/aryankumar/tilebatch/internal/executor"
	"github.com/aryankumar/tilebatch/internal/util"
)

func main() {
	// Worker processes of the processes backend re-execute this binary
	if executor.IsWorkerProcess() {
		os.Exit(executor.RunWorker())
	}

	// Setup signal handling for graceful shutdown
	ctx := util.SetupSignalHandler()

	if err := cli.Execute(ctx); err != nil {
		slog.Debug("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", util.FriendlyError(err))
		os.Exit(1)
	}
}
