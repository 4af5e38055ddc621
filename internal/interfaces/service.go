package interfaces

import (
	"context"

	"reservation-engine/internal/models"
)

// ReservationEngine defines the contract for the reservation lifecycle.
type ReservationEngine interface {
	Reserve(ctx context.Context, orderRef int64, req *models.ReserveRequest) (*models.ReserveResponse, error)
	Commit(ctx context.Context, orderRef int64) (*models.CommitResponse, error)
	Release(ctx context.Context, orderRef int64) (*models.ReleaseResponse, error)
	SweepExpired(ctx context.Context) (int, error)

	// Query operations
	GetAvailability(ctx context.Context, target models.Target) (*models.AvailabilityResponse, error)
	GetOrderReservations(ctx context.Context, orderRef int64) ([]models.Reservation, error)
	GetLedger(ctx context.Context, target models.Target, limit int) ([]models.LedgerEntry, error)
	AdjustStock(ctx context.Context, target models.Target, delta int, reason string) (*models.StockItem, error)
}

// CacheRepository defines the contract for availability caching.
type CacheRepository interface {
	GetAvailability(ctx context.Context, target models.Target) (*models.StockState, error)
	SetAvailability(ctx context.Context, state *models.StockState) error
	DeleteAvailability(ctx context.Context, target models.Target) error
	Close() error
}
