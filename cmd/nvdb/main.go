// Package main is the entry point for the nvdb CLI.
//
// Usage:
//
//	nvdb [flags] <command> [args]
//
// Commands:
//
//	status   - print index size, mode, and cache health
//	health   - readiness check: open and close the configured database
//	insert   - insert a single JSON-array vector (smoke testing)
//	search   - run a k-nearest-neighbor query against a JSON-array vector
package main

import (
	"fmt"
	"os"

	"github.com/nounverb/nvdb/cmd/nvdb/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
