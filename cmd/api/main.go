package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/illegalcall/ai-credits/internal/api"
	"github.com/illegalcall/ai-credits/internal/config"
	"github.com/illegalcall/ai-credits/internal/credits"
	"github.com/illegalcall/ai-credits/internal/logger"
	"github.com/illegalcall/ai-credits/internal/pkg/razorpay"
	"github.com/illegalcall/ai-credits/internal/pkg/stability"
	"github.com/illegalcall/ai-credits/internal/pkg/supabase"
	"github.com/illegalcall/ai-credits/internal/profiles"
	"github.com/illegalcall/ai-credits/internal/resume"
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

	producer, err := kafka.NewProducer(ctx, cfg.Kafka.Broker, cfg.Kafka.RetryMax, cfg.Kafka.RetryBackoff, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka producer")
	}
	defer producer.Close()
	log.Info().Str("broker", cfg.Kafka.Broker).Msg("Connected to Kafka")

	authClient := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey, log)
	if err := authClient.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Supabase Auth is not reachable")
	}

	var tokens api.TokenResolver = authClient
	if cfg.Supabase.JWTSecret != "" {
		tokens = supabase.NewJWTResolver(cfg.Supabase.JWTSecret)
		log.Info().Msg("Verifying access tokens locally")
	}

	var analyzer resume.Analyzer = resume.SummaryAnalyzer{}
	switch {
	case cfg.OpenAI.APIKey != "":
		analyzer = resume.NewOpenAIAnalyzer(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		log.Info().Str("model", cfg.OpenAI.Model).Msg("Resume analysis backed by OpenAI")
	case cfg.Gemini.APIKey != "":
		analyzer = resume.NewGeminiAnalyzer(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL)
		log.Info().Str("model", cfg.Gemini.Model).Msg("Resume analysis backed by Gemini")
	}

	adminUsage := credits.AdminUsageUntracked
	if cfg.Credits.RecordAdminUsage {
		adminUsage = credits.AdminUsageRecorded
	}

	store := profiles.NewStore(db.DB)
	orders := razorpay.NewClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)
	if orders.KeyID() == "" {
		log.Warn().Msg("Razorpay keys are not set; order creation will fail")
	}

	server, err := api.NewServer(cfg, api.Deps{
		Redis:    db.Redis,
		Producer: producer,
		Profiles: store,
		Gate:     credits.NewGate(store, adminUsage, log),
		Auth:     authClient,
		Tokens:   tokens,
		Images: stability.New(stability.Config{
			APIKey:  cfg.Stability.APIKey,
			BaseURL: cfg.Stability.BaseURL,
			Engine:  cfg.Stability.Engine,
			Timeout: cfg.Stability.Timeout,
		}),
		Orders:   orders,
		Analyzer: analyzer,
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Port).Msg("Server listening")
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
