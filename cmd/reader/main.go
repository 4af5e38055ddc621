package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/api"
	"reservation-engine/internal/cache"
	"reservation-engine/internal/config"
	"reservation-engine/internal/interfaces"
	"reservation-engine/internal/kafka"
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

// startStateConsumer consumes availability snapshots and warms the cache
func startStateConsumer(ctx context.Context, cfg *config.Config, cacheClient *cache.Client) interfaces.MessageConsumer {
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaStateTopicName)
	warmer := cache.NewWarmer(cacheClient)

	go func() {
		if err := consumer.ConsumeState(ctx, warmer); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("State consumer stopped with error")
		}
	}()

	return consumer
}

// startHTTPServer starts the read API server
func startHTTPServer(cfg *config.Config, cacheClient *cache.Client) *http.Server {
	handler := api.NewReaderHandler(cacheClient)
	router := handler.SetupReaderRoutes()

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reader service HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

func main() {
	cfg := config.LoadConfig()
	setupLogging(cfg)
	log.Info().Msg("Starting reader service...")

	cacheClient := initializeCache(cfg)
	defer cacheClient.Close()

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	consumer := startStateConsumer(consumerCtx, cfg, cacheClient)
	defer consumer.Close()

	server := startHTTPServer(cfg, cacheClient)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down reader service...")
	consumerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Reader service stopped")
}
