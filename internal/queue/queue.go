package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/pnptcn/nuner/internal/util"
	"github.com/pnptcn/nuner/pkg/logger"
)

const (
	exchangeName = "pubsub"

	// MaxRetries is how often a message goes through the retry queue before
	// it is dead-lettered.
	MaxRetries = 10
	// RetryDelay is how long a message waits in the retry queue.
	RetryDelay = 10 * time.Second

	connectTries   = 5
	connectBackoff = time.Second
)

// MergeMsg is the body of a message on the merge queue. Payload holds the
// raw batch bytes as received, valid JSON or not.
type MergeMsg struct {
	BatchID    string    `json:"batch_id"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher is the part of *amqp091.Channel the queue helpers publish with.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Connect dials the broker, retrying with backoff while it is not reachable.
func Connect(ctx context.Context, url string) (*amqp091.Connection, error) {
	conn, err := util.RetryWithContext(ctx, connectTries, connectBackoff, func(ctx context.Context) (*amqp091.Connection, error) {
		conn, err := amqp091.Dial(url)
		if err != nil {
			logger.Warn("[Queue] broker not reachable", "err", err)
		}
		return conn, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares every queue in queueNames together with its
// dead-letter queue (<name>_dlq) and its retry queue (<name>_retry), which
// holds messages for RetryDelay and then routes them back to <name>.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("ExchangeDeclare failed: %w", err)
	}

	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("QueueDeclare %s failed: %w", name, err)
		}

		dlqName := DeadLetterQueue(name)
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("QueueDeclare %s failed: %w", dlqName, err)
		}

		retryName := RetryQueue(name)
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(RetryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("QueueDeclare %s failed: %w", retryName, err)
		}
	}

	return nil
}

func DeadLetterQueue(name string) string { return name + "_dlq" }

func RetryQueue(name string) string { return name + "_retry" }

// PublishFIFO publishes data persistently onto the named queue through the
// default exchange.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte, headers amqp091.Table) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		publishing,
	)
}

// Enqueue wraps payload in a MergeMsg and publishes it onto queueName.
func Enqueue(ctx context.Context, ch Publisher, queueName, batchID string, payload []byte) error {
	body, err := json.Marshal(MergeMsg{
		BatchID:    batchID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode merge message: %w", err)
	}
	if err := PublishFIFO(ctx, ch, queueName, body, nil); err != nil {
		return fmt.Errorf("failed to publish batch %s: %w", batchID, err)
	}
	logger.Debug("[Queue] batch enqueued", "batch", batchID, "queue", queueName)
	return nil
}
