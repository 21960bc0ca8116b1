// Package main runs the scraper intelligence service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/StamperDavid/prospect-intel/internal/config"
	"github.com/StamperDavid/prospect-intel/internal/logging"
	"github.com/StamperDavid/prospect-intel/internal/metrics"
	"github.com/StamperDavid/prospect-intel/internal/server"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("prospect-intel", cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx := context.Background()
	app, err := server.Build(ctx, cfg, server.BuildOptions{Logger: logger})
	if err != nil {
		logger.Error("build failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("run failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
