// Package main provides the entry point for the megabrain CLI.
package main

import (
	"os"

	"github.com/olexmal/megabrain/cmd/megabrain/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
