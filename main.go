// Package main is the entry point for the festats feature extractor.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/festats/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
