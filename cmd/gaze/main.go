// Package main is the entry point for the gaze CLI application
package main

import (
	"fmt"
	"os"

	"github.com/gazewatch/gaze/internal/cli"
	"github.com/gazewatch/gaze/internal/watchers/registry"
	"github.com/gazewatch/gaze/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	// Set version info for CLI
	cli.SetVersionInfo(Version, BuildDate)

	// Execute the root command
	err := cli.Execute()

	_ = registry.ShutdownDefault()
	_ = logger.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
