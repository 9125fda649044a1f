package main

import (
	"github.com/mirojs/graphrag-orchestration/internal/config"
	"github.com/mirojs/graphrag-orchestration/internal/server"
	"github.com/mirojs/graphrag-orchestration/pkg/logger"
	"github.com/mirojs/graphrag-orchestration/pkg/logger/console"
)

func main() {
	cfg, err := config.Load()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
	})
	logger.Init(consoleLogger)

	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	server.Init(cfg)
}
