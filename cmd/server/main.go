package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pnptcn/nuner/internal/config"
	"github.com/pnptcn/nuner/internal/server"
	"github.com/pnptcn/nuner/internal/util"
	"github.com/pnptcn/nuner/pkg/logger"
)

func main() {
	util.LoadEnv()
	flush := util.InitLoggerFromEnv()
	defer flush()

	cfg, err := config.Load(util.GetEnv("NUNER_CONFIG"))
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}
