// Package main provides the entry point for the ctxgraph CLI.
package main

import (
	"os"

	"github.com/ctxmesh/ctxgraph/cmd/ctxgraph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
