// Command cnabflow is the CNAB transaction processing service and its CLI.
package main

import (
	"fmt"
	"os"

	"github.com/cnabflow/cnabflow/cmd/cnabflow/commands"
)

// Injected via -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
