package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirojs/graphrag-orchestration/internal/config"
	"github.com/mirojs/graphrag-orchestration/internal/queue"
	"github.com/mirojs/graphrag-orchestration/pkg/ai"
	"github.com/mirojs/graphrag-orchestration/pkg/canon"
	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/community"
	"github.com/mirojs/graphrag-orchestration/pkg/leaselock"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/logger/console"
	pgstore "github.com/mirojs/graphrag-orchestration/pkg/store/pgx"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	cfg, err := config.Load()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
	})
	logger.Init(consoleLogger)

	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()
	graph := pgstore.NewGraphDBStorageWithConnection(pool)

	conn, err := queue.Dial(cfg.Queue.URL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.CanonicalizeQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	canonicalizer := queue.NewCanonicalizer(
		graph,
		aiClient,
		canon.NewEngine(cfg.CanonConfig()),
		community.NewSummarizer(graph, aiClient, community.Config{Concurrency: cfg.AI.ParallelReq}),
		leaselock.New(pool),
		ch,
		queue.CanonicalizeConfig{
			EmbedBatchSize:   cfg.Canon.EmbedBatchSize,
			EmbedConcurrency: cfg.AI.ParallelReq,
			LockTTL:          cfg.Canon.LockTTL,
		},
	)

	// One message at a time; a run holds the tenant lease for its duration.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.CanonicalizeQueue,
		queue.CanonicalizeQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.CanonicalizeQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.CanonicalizeQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.CanonicalizeQueue)
				return
			}
			handle(ctx, canonicalizer, aiClient, consumerCh, msg, cfg.Queue.MaxRetries)
		}
	}
}

func handle(ctx context.Context, c *queue.Canonicalizer, aiClient ai.GraphAIClient, ch *amqp.Channel, msg amqp.Delivery, maxRetries int) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.CanonicalizeQueue)

	if err := c.Process(ctx, msg.Body); err != nil {
		logger.Error("Error processing message", "queue", queue.CanonicalizeQueue, "err", err)
		// Malformed messages never succeed on retry.
		if errors.Is(err, common.ErrInputValidation) {
			maxRetries = 0
		}
		queue.HandleProcessingError(ch, msg, queue.CanonicalizeQueue, maxRetries)
	} else {
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queue.CanonicalizeQueue)
	}

	metrics := aiClient.GetMetrics()
	logger.Info(
		"AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"requests", metrics.Requests,
		"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
	logger.Info("Processing time", "duration", clock(time.Since(startTime)))
	aiClient.ResetMetrics()
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
