// Command fxstore dispatches events to the demo counter app, runs scenario
// files and inspects the dispatch journal.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fxstore/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
