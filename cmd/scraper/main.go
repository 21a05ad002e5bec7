package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/config"
	"github.com/JakeFAU/catalog-gateway/internal/logging"
	"github.com/JakeFAU/catalog-gateway/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envPath := flag.String("env-file", ".env", "Path to a .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	logger = logging.ForService(logger, "scraper", cfg.Environment)
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	app, err := server.BuildScraper(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("application init failed", zap.Error(err))
	}
	if err := app.Run(ctx); err != nil {
		logger.Fatal("application stopped with error", zap.Error(err))
	}
}
