// Command actiongraph runs and undoes Actions over a SQLite property graph.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/actiongraph/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
