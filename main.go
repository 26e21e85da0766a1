package main

import (
	"os"

	"github.com/FranLegon/syncly/cmd"
)

// main executes the root command of the CLI defined in the cmd package.
func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
