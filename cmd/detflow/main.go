// Command detflow is the thin CLI wrapper around the engine: it exists
// to issue retry/approve/branch control operations against a running
// flow's event log and to map the resulting error to an exit code.
package main

import (
	"fmt"
	"os"

	"detflow/cli"
	"detflow/internal/engineerr"
)

func main() {
	root := cli.NewRootCommand()
	err := root.Execute()
	if err == nil {
		os.Exit(engineerr.ExitSuccess)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(engineerr.ExitCode(err))
}
