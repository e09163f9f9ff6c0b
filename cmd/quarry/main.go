// Package main provides the entry point for the quarry CLI.
package main

import (
	"os"

	"github.com/quarry-search/quarry/cmd/quarry/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
