package interfaces

import (
	"context"

	"reservation-engine/internal/models"
)

// MessagePublisher defines the contract for publishing events
type MessagePublisher interface {
	PublishEvent(ctx context.Context, event *models.StockEvent) error
	PublishState(ctx context.Context, state *models.StockState) error
	Close() error
}

// MessageConsumer defines the contract for consuming events
type MessageConsumer interface {
	ConsumeState(ctx context.Context, handler StateHandler) error
	Close() error
}

// StateHandler processes stock availability snapshots from the state topic.
type StateHandler interface {
	HandleState(ctx context.Context, state *models.StockState) error
}
