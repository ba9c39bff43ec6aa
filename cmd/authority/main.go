package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/famsync/internal/buildinfo"
	"github.com/dmitrijs2005/famsync/internal/logging"
	"github.com/dmitrijs2005/famsync/internal/server"
	"github.com/dmitrijs2005/famsync/internal/server/config"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.MintToken(os.Stdout); err != nil {
		log.Fatalf("mint token: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "authority failed", "error", err)
		os.Exit(1)
	}
}
