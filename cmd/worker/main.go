package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/illegalcall/ai-credits/internal/config"
	"github.com/illegalcall/ai-credits/internal/logger"
	"github.com/illegalcall/ai-credits/internal/profiles"
	"github.com/illegalcall/ai-credits/internal/worker"
	"github.com/illegalcall/ai-credits/pkg/database"
	"github.com/illegalcall/ai-credits/pkg/kafka"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog := logger.New("development", "info")
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.Server.Environment, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewClients(ctx, database.Options{
		PostgresURL:   cfg.Database.URL,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database clients")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}
	log.Info().Msg("Connected to databases")

	consumer, err := kafka.NewConsumer(ctx, cfg.Kafka.Broker, cfg.Kafka.Group, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}
	defer consumer.Close()
	log.Info().Str("broker", cfg.Kafka.Broker).Msg("Connected to Kafka")

	w := worker.NewWorker(cfg, profiles.NewStore(db.DB), consumer, log)
	if err := w.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Worker error")
	}
}
