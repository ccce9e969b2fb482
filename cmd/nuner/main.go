package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pnptcn/nuner/internal/util"
	"github.com/pnptcn/nuner/pkg/logger"
)

func main() {
	util.LoadEnv()
	flush := util.InitLoggerFromEnv()
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "err", err)
		flush()
		os.Exit(1)
	}
}
