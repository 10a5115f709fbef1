// Package main is the entry point for the wagerctl operator tool.
package main

import (
	"fmt"
	"os"

	"hazard-wager/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
