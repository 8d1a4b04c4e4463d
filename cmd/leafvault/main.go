// Package main provides the leafvault CLI: the offline-first store and sync
// engine for field tree and leaf-disease captures.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}
}
