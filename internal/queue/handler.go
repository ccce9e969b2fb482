package queue

import (
	"context"
	"encoding/json"

	"github.com/rabbitmq/amqp091-go"

	"github.com/pnptcn/nuner/internal/storage"
	"github.com/pnptcn/nuner/pkg/logger"
)

const retriesHeader = "x-retries"

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError moves a failed message to the retry queue of
// queueName, or to its dead-letter queue once it has been retried
// MaxRetries times. The batch payload of a dead-lettered message is also
// archived when archive is not nil. The original delivery is acked once the
// copy is published and requeued otherwise.
func HandleProcessingError(ctx context.Context, ch Publisher, archive Archiver, msg amqp091.Delivery, queueName string) {
	retries := retryCount(msg.Headers)

	if retries >= MaxRetries {
		dlqName := DeadLetterQueue(queueName)
		logger.Info("[Queue] sending message to DLQ", "dlq", dlqName, "retries", retries)
		if err := PublishFIFO(ctx, ch, dlqName, msg.Body, msg.Headers); err != nil {
			logger.Error("[Queue] failed to publish to DLQ", "dlq", dlqName, "err", err)
			nack(msg)
			return
		}
		batchID, payload := unwrap(msg)
		archivePayload(ctx, archive, storage.DeadLetterPrefix, batchID, payload)
		ack(msg)
		return
	}

	retryName := RetryQueue(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	if err := PublishFIFO(ctx, ch, retryName, msg.Body, headers); err != nil {
		logger.Error("[Queue] failed to publish to retry queue", "retry_queue", retryName, "err", err)
		nack(msg)
		return
	}
	ack(msg)
}

// unwrap returns the batch id and raw payload carried by msg, or the whole
// body when it is not a MergeMsg.
func unwrap(msg amqp091.Delivery) (string, []byte) {
	var m MergeMsg
	if err := json.Unmarshal(msg.Body, &m); err == nil && m.Payload != nil {
		if m.BatchID != "" {
			return m.BatchID, m.Payload
		}
		return idOf(msg), m.Payload
	}
	return idOf(msg), msg.Body
}

func idOf(msg amqp091.Delivery) string {
	if msg.MessageId != "" {
		return msg.MessageId
	}
	return "unknown"
}

func ack(msg amqp091.Delivery) {
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] failed to ack message", "err", err)
	}
}

func nack(msg amqp091.Delivery) {
	if err := msg.Nack(false, true); err != nil {
		logger.Error("[Queue] failed to nack message", "err", err)
	}
}
