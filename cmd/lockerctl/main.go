// Command lockerctl is a read-only inspection client for a running
// lockersimd instance's debug listener.
package main

import (
	"fmt"
	"os"

	"github.com/mdslocker/lockerd/cmd/lockerctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
