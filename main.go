package main

import (
	"fmt"
	"os"

	"kitefeed/internal/cli"
	"kitefeed/internal/config"
	"kitefeed/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "kitefeed: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(cfg.LoggingConfig())

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kitefeed: %v\n", err)
		os.Exit(1)
	}
}
