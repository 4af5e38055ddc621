package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/cache"
	"reservation-engine/internal/config"
	"reservation-engine/internal/engine"
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

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")
	return db
}

// runSweepLoop expires overdue reservations on a fixed interval until the
// context is cancelled. SKIP LOCKED row selection makes it safe to run
// several sweeper instances at once.
func runSweepLoop(ctx context.Context, reservationEngine *engine.Engine, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Starting sweep loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping sweep loop")
			return
		case <-ticker.C:
			expired, err := reservationEngine.SweepExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Sweep pass failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("Sweep pass completed")
			}
		}
	}
}

// startHealthServer starts a minimal HTTP server for liveness checks
func startHealthServer(cfg *config.Config) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "reservation-sweeper",
		})
	})

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Sweeper health server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start health server")
		}
	}()

	return server
}

func main() {
	cfg := config.LoadConfig()
	setupLogging(cfg)
	log.Info().Msg("Starting reservation sweeper...")

	db := initializeDatabase(cfg)
	defer db.Close()

	cacheClient := cache.NewClient(
		cfg.RedisAddrs,
		cfg.RedisPassword,
		cfg.RedisClusterMode,
		cfg.RedisTTL,
		cfg.RedisKeyPrefix,
	)
	defer cacheClient.Close()

	repo := repository.NewRepository(db)
	reservationEngine, err := engine.NewEngine(repo, cacheClient, engine.Config{
		ReservationTimeout: cfg.ReservationTimeout,
		SweepBatchSize:     cfg.SweepBatchSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reservation engine")
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go runSweepLoop(sweepCtx, reservationEngine, cfg.SweepInterval)

	server := startHealthServer(cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down sweeper...")
	sweepCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Sweeper stopped")
}
