// Package main is the entry point for the mlpipe CLI.
// mlpipe runs the entry points of an MLproject as a chain of tracked runs,
// handing each step the artifacts of the step before it.
package main

import (
	"os"

	"mlpipe/cmd/mlpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
