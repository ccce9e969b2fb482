package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/pnptcn/nuner/pkg/logger"
)

// Worker consumes the merge queue one message at a time.
type Worker struct {
	Queue     string
	Merger    Merger
	Publisher Publisher
	// Archive is optional.
	Archive Archiver
}

// Consume starts consuming w.Queue on ch with prefetch 1 and processes
// deliveries until ctx is done or the channel closes.
func (w *Worker) Consume(ctx context.Context, ch *amqp091.Channel) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(
		ctx,
		w.Queue,
		w.Queue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", w.Queue, err)
	}

	logger.Info("[Worker] listening for messages", "queue", w.Queue)
	return w.Run(ctx, msgs)
}

// Run processes deliveries until ctx is done or deliveries is closed.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Worker] stopping consumer", "queue", w.Queue)
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				logger.Info("[Worker] message channel closed", "queue", w.Queue)
				return nil
			}
			w.Handle(ctx, msg)
		}
	}
}

// Handle processes one delivery and settles it.
func (w *Worker) Handle(ctx context.Context, msg amqp091.Delivery) {
	startTime := time.Now()
	logger.Info("[Worker] received message", "queue", w.Queue)

	err := ProcessMergeMessage(ctx, w.Merger, w.Archive, msg.Body)
	switch {
	case err == nil:
		ack(msg)
		logger.Info("[Worker] message processed", "queue", w.Queue, "duration", time.Since(startTime).Round(time.Millisecond))
	case ctx.Err() != nil:
		// Shutting down: hand the message back without counting a retry.
		nack(msg)
	default:
		logger.Error("[Worker] error processing message", "queue", w.Queue, "err", err)
		HandleProcessingError(ctx, w.Publisher, w.Archive, msg, w.Queue)
	}
}
