// cmd/bot/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/solmirror/mirrorbot/internal/bot"
	"github.com/solmirror/mirrorbot/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to config file")
	flag.Parse()

	log, err := logger.New(nil)
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()
	log.Info("starting mirror bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := bot.NewRunner(log)
	if err := runner.Initialize(*configPath); err != nil {
		log.Fatal("failed to initialize bot", zap.Error(err))
	}

	if err := runner.Run(ctx); err != nil {
		log.Fatal("bot execution error", zap.Error(err))
	}
}
