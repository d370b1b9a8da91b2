package main

import (
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if err := NewRootCommand(newApplication).Execute(); err != nil {
		os.Exit(1)
	}
}
