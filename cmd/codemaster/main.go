// Package main is the entry point for the Codemaster gateway CLI.
package main

import (
	"os"

	"github.com/codemaster-ai/codemaster/cmd/codemaster/app"
	"github.com/codemaster-ai/codemaster/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
