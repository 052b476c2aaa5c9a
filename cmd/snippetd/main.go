// Package main is the snippetd entry point: a CLI with serve and migrate
// subcommands over the snippet vault.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snippetd:", err)
		os.Exit(1)
	}
}
