package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"reservation-engine/internal/interfaces"
	"reservation-engine/internal/models"
)

// Consumer handles consuming availability snapshots from the state topic.
// The reader service uses it to keep the Redis availability cache warm.
type Consumer struct {
	stateReader *kafka.Reader
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, consumerGroup, stateTopic string) *Consumer {
	stateReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   stateTopic,
		GroupID: consumerGroup + "-state",

		// Consumer configuration
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB max message size
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,

		// Error handling
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka state reader error: "+msg, args...)
		}),
	})

	return &Consumer{
		stateReader: stateReader,
	}
}

// ConsumeState starts consuming availability snapshots and processes them
// with the provided handler. State messages are idempotent full snapshots,
// so a failed handler call is logged and skipped rather than redelivered:
// the next change to the same target supersedes it anyway.
func (c *Consumer) ConsumeState(ctx context.Context, handler interfaces.StateHandler) error {
	log.Info().Msg("Starting to consume stock state updates")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping state consumption")
			return ctx.Err()
		default:
			message, err := c.stateReader.FetchMessage(ctx)
			if err != nil {
				if err == context.Canceled {
					return nil
				}
				log.Error().Err(err).Msg("Failed to fetch state message")
				time.Sleep(time.Second) // Backoff on error
				continue
			}

			var state models.StockState
			if err := json.Unmarshal(message.Value, &state); err != nil {
				log.Error().Err(err).
					Str("topic", message.Topic).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to unmarshal state")

				// Commit the message to skip it
				if commitErr := c.stateReader.CommitMessages(ctx, message); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit invalid state message")
				}
				continue
			}

			target := models.Target{ProductID: state.ProductID, VariantID: state.VariantID}
			if err := handler.HandleState(ctx, &state); err != nil {
				log.Error().Err(err).
					Str("target", target.Key()).
					Msg("Failed to handle state update")
			}

			if err := c.stateReader.CommitMessages(ctx, message); err != nil {
				log.Error().Err(err).Msg("Failed to commit state message")
			} else {
				log.Debug().
					Str("target", target.Key()).
					Msg("Successfully processed state update")
			}
		}
	}
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	if err := c.stateReader.Close(); err != nil {
		return fmt.Errorf("failed to close state reader: %w", err)
	}
	return nil
}
