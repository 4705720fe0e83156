// Package main is the entry point for the reply agent worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/jonesrussell/reply-agent/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	var configPath string
	var flushBlocklist bool
	flag.StringVar(&configPath, "config", "config.yml", "Path to configuration file")
	flag.BoolVar(&flushBlocklist, "flush-blocklist", false, "Flush the Redis target blocklist and exit")
	flag.Parse()

	// Local development convenience; the file is absent in containers
	_ = godotenv.Load()

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to close application: %v\n", closeErr)
		}
	}()

	if flushBlocklist {
		ctx, cancel := context.WithTimeout(context.Background(), app.FlushBlocklistTimeout)
		defer cancel()

		if flushErr := application.FlushBlocklist(ctx); flushErr != nil {
			application.Logger().Error("Failed to flush blocklist")
			os.Exit(1)
		}

		application.Logger().Info("Blocklist flushed successfully")
		return
	}

	if runErr := application.Run(context.Background()); runErr != nil {
		application.Logger().Error("Application error")
		os.Exit(1)
	}
}
