// Package main provides the archive engine command line interface.
package main

import (
	"fmt"
	"os"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
