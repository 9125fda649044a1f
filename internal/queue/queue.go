// Package queue wires the canonicalization worker to RabbitMQ: queue setup,
// publishing, retry and dead-lettering, and the job handlers.
package queue

import (
	"context"
	"time"

	"github.com/mirojs/graphrag-orchestration/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	CanonicalizeQueue = "canonicalize_queue"

	// CacheInvalidateTopic carries the tenant id whose graph changed.
	CacheInvalidateTopic = "cache_invalidate"

	topicExchange = "pubsub_exchange"
)

// Publisher is the part of an AMQP channel used for publishing.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Dial(url string) (*amqp091.Connection, error) {
	return amqp091.Dial(url)
}

// SetupQueues declares each queue together with its dead-letter queue and a
// retry queue that routes back to it after a delay.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	if err := declareTopicExchange(ch); err != nil {
		return err
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		); err != nil {
			return err
		}

		if _, err := ch.QueueDeclare(
			name+"_dlq",
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}

		if _, err := ch.QueueDeclare(
			name+"_retry",
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(10000),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		); err != nil {
			return err
		}
		logger.Debug("[Queue] declared", "queue", name)
	}
	return nil
}

func declareTopicExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		topicExchange,
		"topic",
		false, // durable
		true,  // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

func PublishTopic(ch Publisher, topic string, data []byte) error {
	return ch.Publish(
		topicExchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// SubscribeTopic binds a fresh exclusive queue to topic and calls fn for
// every message until ctx ends or the channel closes.
func SubscribeTopic(ctx context.Context, ch *amqp091.Channel, topic string, fn func(body []byte)) error {
	if err := declareTopicExchange(ch); err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, topic, topicExchange, false, nil); err != nil {
		return err
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Warn("[Queue] topic subscription closed", "topic", topic)
					return
				}
				fn(msg.Body)
			}
		}
	}()
	return nil
}
