package main

import (
	"fmt"
	"os"

	"github.com/orchestrix-dev/orchestrix/cmd/orchestrix/cmd"
)

// Version info - overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
