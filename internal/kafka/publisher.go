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

// Publisher handles publishing messages to Kafka
type Publisher struct {
	eventsWriter *kafka.Writer
	stateWriter  *kafka.Writer
}

// OutboxConfig drives the outbox drain loop.
type OutboxConfig struct {
	LockKey      int64
	BatchSize    int
	PollInterval time.Duration
}

// OutboxStore is the slice of the outbox repository the drain loop needs.
type OutboxStore interface {
	TryAcquireOutboxLock(ctx context.Context, lockKey int64) (bool, error)
	ReleaseOutboxLock(ctx context.Context, lockKey int64) error
	FetchOutboxBatch(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []int64) error
	IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string, eventsTopic, stateTopic string) *Publisher {
	// Hash balancer routes messages with the same Key (target) to the same
	// partition so ordering is preserved per stock pool.
	eventsWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  eventsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll, // Wait for all replicas
		Async:                  false,            // Synchronous writes for reliability
		AllowAutoTopicCreation: true,

		// Producer reliability settings
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	stateWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  stateTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		// Producer reliability settings
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	return &Publisher{
		eventsWriter: eventsWriter,
		stateWriter:  stateWriter,
	}
}

// PublishEvent publishes a stock event to the events topic
func (p *Publisher) PublishEvent(ctx context.Context, event *models.StockEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	target := models.Target{ProductID: event.ProductID, VariantID: event.VariantID}
	message := kafka.Message{
		Key:   []byte(target.Key()), // Partition by target for ordering
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.EventType)},
			{Key: "event-id", Value: []byte(event.EventID)},
		},
	}

	err = p.eventsWriter.WriteMessages(ctx, message)
	if err != nil {
		log.Error().Err(err).
			Str("event_type", event.EventType).
			Str("target", target.Key()).
			Str("event_id", event.EventID).
			Msg("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Info().
		Str("event_type", event.EventType).
		Str("target", target.Key()).
		Str("event_id", event.EventID).
		Msg("Published event")

	return nil
}

// PublishState publishes an availability snapshot to the state topic
func (p *Publisher) PublishState(ctx context.Context, state *models.StockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	target := models.Target{ProductID: state.ProductID, VariantID: state.VariantID}
	message := kafka.Message{
		Key:   []byte(target.Key()), // Partition by target for ordering
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(models.EventTypeStockState)},
			{Key: "target", Value: []byte(target.Key())},
		},
	}

	err = p.stateWriter.WriteMessages(ctx, message)
	if err != nil {
		log.Error().Err(err).
			Str("target", target.Key()).
			Msg("Failed to publish state")
		return fmt.Errorf("failed to publish state: %w", err)
	}

	log.Debug().
		Str("target", target.Key()).
		Int("available_qty", state.AvailableQty).
		Int("active_reserved", state.ActiveReserved).
		Msg("Published state")

	return nil
}

// Close closes the Kafka writers
func (p *Publisher) Close() error {
	var errs []error

	if err := p.eventsWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close events writer: %w", err))
	}

	if err := p.stateWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close state writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing publishers: %v", errs)
	}

	return nil
}

// RunOutboxPublisher runs the outbox publisher loop with advisory locking.
// Only one worker across all instances drains the outbox at any moment,
// which preserves the per-target event order established by outbox insert
// order.
func RunOutboxPublisher(ctx context.Context, pub interfaces.MessagePublisher, store OutboxStore, cfg OutboxConfig) {
	log.Info().
		Int64("lock_key", cfg.LockKey).
		Int("batch_size", cfg.BatchSize).
		Dur("poll_interval", cfg.PollInterval).
		Msg("Starting outbox publisher")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping outbox publisher")
			return
		case <-ticker.C:
			if err := processOutboxBatch(ctx, pub, store, cfg.LockKey, cfg.BatchSize); err != nil {
				log.Error().Err(err).Msg("Failed to process outbox batch")
			}
		}
	}
}

// processOutboxBatch processes a single batch of outbox events
func processOutboxBatch(ctx context.Context, pub interfaces.MessagePublisher, store OutboxStore, lockKey int64, batchSize int) error {
	acquired, err := store.TryAcquireOutboxLock(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		// Another worker holds the lock, skip this cycle
		log.Debug().Msg("Lock held by another worker, skipping batch")
		return nil
	}

	defer func() {
		if err := store.ReleaseOutboxLock(ctx, lockKey); err != nil {
			log.Error().Err(err).Msg("Failed to release outbox lock")
		}
	}()

	events, err := store.FetchOutboxBatch(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox batch: %w", err)
	}

	if len(events) == 0 {
		log.Debug().Msg("No outbox events to process")
		return nil
	}

	log.Debug().Int("count", len(events)).Msg("Processing outbox batch")

	var successfulIDs []int64
	for i := range events {
		event := &events[i]
		if err := publishOutboxEvent(ctx, pub, event); err != nil {
			log.Error().
				Err(err).
				Int64("outbox_id", event.ID).
				Str("event_type", event.EventType).
				Str("key", event.Key).
				Msg("Failed to publish outbox event")

			if incrementErr := store.IncrementPublishAttempts(ctx, event.ID, err.Error()); incrementErr != nil {
				log.Error().Err(incrementErr).Int64("outbox_id", event.ID).Msg("Failed to increment publish attempts")
			}
			continue
		}

		successfulIDs = append(successfulIDs, event.ID)
		log.Debug().
			Int64("outbox_id", event.ID).
			Str("event_type", event.EventType).
			Str("key", event.Key).
			Msg("Successfully published outbox event")
	}

	if len(successfulIDs) > 0 {
		if err := store.MarkOutboxPublished(ctx, successfulIDs); err != nil {
			return fmt.Errorf("failed to mark events as published: %w", err)
		}
		log.Info().
			Int("published_count", len(successfulIDs)).
			Int("total_count", len(events)).
			Msg("Outbox batch processed")
	}

	return nil
}

// publishOutboxEvent decodes one outbox row and routes it to the events or
// state topic based on its event type.
func publishOutboxEvent(ctx context.Context, pub interfaces.MessagePublisher, outboxEvent *models.OutboxEvent) error {
	if outboxEvent.EventType == models.EventTypeStockState {
		var state models.StockState
		if err := json.Unmarshal([]byte(outboxEvent.Payload), &state); err != nil {
			return fmt.Errorf("failed to decode state payload: %w", err)
		}
		return pub.PublishState(ctx, &state)
	}

	var event models.StockEvent
	if err := json.Unmarshal([]byte(outboxEvent.Payload), &event); err != nil {
		return fmt.Errorf("failed to decode event payload: %w", err)
	}
	return pub.PublishEvent(ctx, &event)
}
