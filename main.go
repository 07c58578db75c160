package main

import (
	"os"

	"github.com/fatih/color"

	"github.com/arin/reel/cmd"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "  ✗ %v\n", err)
		os.Exit(1)
	}
}
