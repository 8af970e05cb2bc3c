package main

import (
	"fmt"
	"os"
)

// Version information, set at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sensorctl: %v\n", err)
		os.Exit(1)
	}
}
