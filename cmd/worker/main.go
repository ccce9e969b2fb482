package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pnptcn/nuner/internal/backend"
	"github.com/pnptcn/nuner/internal/config"
	"github.com/pnptcn/nuner/internal/queue"
	"github.com/pnptcn/nuner/internal/storage"
	"github.com/pnptcn/nuner/internal/util"
	"github.com/pnptcn/nuner/pkg/graph"
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
	if !cfg.Queue.Enabled() {
		logger.Fatal("Worker requires RABBITMQ_HOST")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not open graph backend", "err", err)
	}
	defer b.Close(context.Background())

	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Backend:        b,
		FuzzyMatch:     cfg.FuzzyMatch,
		FuzzyThreshold: cfg.Threshold(),
		RepairPayloads: cfg.RepairPayloads,
	})
	if err != nil {
		logger.Fatal("Could not create graph client", "err", err)
	}

	worker := &queue.Worker{Queue: cfg.Queue.Name, Merger: client}

	if cfg.Archive.Enabled() {
		archive, err := storage.NewArchive(ctx, cfg.Archive)
		if err != nil {
			logger.Fatal("Could not create archive", "err", err)
		}
		worker.Archive = archive
	}

	// Init rabbitmq
	conn, err := queue.Connect(ctx, cfg.Queue.URL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{cfg.Queue.Name}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}
	worker.Publisher = ch

	// A separate channel with prefetch=1 so only one batch is in flight.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := worker.Consume(ctx, consumerCh); err != nil {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
