package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/api"
	"reservation-engine/internal/cache"
	"reservation-engine/internal/config"
	"reservation-engine/internal/engine"
	"reservation-engine/internal/interfaces"
	"reservation-engine/internal/kafka"
	"reservation-engine/internal/repository"
)

// setupLogging configures structured logging. Every line carries the
// service name and instance so multi-instance logs stay attributable.
func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")
	return db
}

// initializeCache sets up Redis cache with cluster support
func initializeCache(cfg *config.Config) *cache.Client {
	cacheClient := cache.NewClient(
		cfg.RedisAddrs,
		cfg.RedisPassword,
		cfg.RedisClusterMode,
		cfg.RedisTTL,
		cfg.RedisKeyPrefix,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cacheClient.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	log.Info().Msg("Redis connection established")

	return cacheClient
}

// initializeKafka sets up the Kafka publisher
func initializeKafka(cfg *config.Config) interfaces.MessagePublisher {
	log.Info().Strs("kafka_brokers", cfg.KafkaBrokers).Msg("Initializing Kafka publisher with brokers")
	return kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopicName, cfg.KafkaStateTopicName)
}

// createEngine creates and configures the reservation engine
func createEngine(repo *repository.Repository, cacheClient *cache.Client, cfg *config.Config) *engine.Engine {
	engineConfig := engine.Config{
		ReservationTimeout: cfg.ReservationTimeout,
		SweepBatchSize:     cfg.SweepBatchSize,
	}

	log.Info().
		Dur("reservation_timeout", engineConfig.ReservationTimeout).
		Int("sweep_batch_size", engineConfig.SweepBatchSize).
		Msg("Engine configuration loaded")

	reservationEngine, err := engine.NewEngine(repo, cacheClient, engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reservation engine")
	}

	return reservationEngine
}

// startHTTPServer starts the HTTP server
func startHTTPServer(cfg *config.Config, reservationEngine *engine.Engine) *http.Server {
	handler := api.NewServerHandler(reservationEngine)
	router := handler.SetupRoutes()

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reservation server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// startOutboxWorker starts the outbox publisher with advisory locks
func startOutboxWorker(db *sqlx.DB, publisher interfaces.MessagePublisher, cfg *config.Config) {
	log.Info().Msg("Starting outbox publisher with advisory locks")

	outboxRepo := repository.NewOutboxRepository(db)
	outboxCtx, outboxCancel := context.WithCancel(context.Background())

	go func() {
		defer outboxCancel()
		kafka.RunOutboxPublisher(outboxCtx, publisher, outboxRepo, kafka.OutboxConfig{
			LockKey:      cfg.OutboxLockKey,
			BatchSize:    cfg.OutboxBatchSize,
			PollInterval: cfg.OutboxPollInterval,
		})
		log.Warn().Msg("Outbox publisher stopped")
	}()
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down reservation server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Reservation server stopped")
}

func main() {
	cfg := config.LoadConfig()
	setupLogging(cfg)
	log.Info().Msg("Starting reservation server...")

	db := initializeDatabase(cfg)
	defer db.Close()

	cacheClient := initializeCache(cfg)
	defer cacheClient.Close()

	publisher := initializeKafka(cfg)
	defer publisher.Close()

	repo := repository.NewRepository(db)
	reservationEngine := createEngine(repo, cacheClient, cfg)

	server := startHTTPServer(cfg, reservationEngine)

	startOutboxWorker(db, publisher, cfg)

	gracefulShutdown(server)
}
