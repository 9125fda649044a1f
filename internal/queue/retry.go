package queue

import (
	"github.com/mirojs/graphrag-orchestration/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

func retries(headers amqp091.Table) int {
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

// HandleProcessingError sends a failed message to the retry queue, or to the
// dead-letter queue once it has been retried maxRetries times. The original
// delivery is acked after the copy is published and requeued if publishing
// fails.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string, maxRetries int) {
	n := retries(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if n >= maxRetries {
		target = queueName + "_dlq"
		logger.Warn("[Queue] sending message to DLQ", "dlq", target, "retries", n)
	} else {
		headers[retriesHeader] = int32(n + 1)
		logger.Info("[Queue] retrying message", "queue", queueName, "attempt", n+1)
	}

	err := ch.Publish(
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if err != nil {
		logger.Error("[Queue] failed to republish message", "target", target, "err", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] failed to ack message", "err", err)
	}
}
