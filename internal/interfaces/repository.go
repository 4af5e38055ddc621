package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"reservation-engine/internal/models"
)

// Repository defines the contract for the stock ledger, reservation store,
// inventory ledger and outbox. Methods taking a *sqlx.Tx participate in the
// caller's transaction; RunInTx owns begin/commit/rollback so the engine
// never manages transaction lifecycle directly.
type Repository interface {
	// Transaction management
	RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	// Stock ledger operations
	GetStockItem(ctx context.Context, target models.Target) (*models.StockItem, error)
	GetStockItemForUpdate(ctx context.Context, tx *sqlx.Tx, target models.Target) (*models.StockItem, error)
	UpdateOnHand(ctx context.Context, tx *sqlx.Tx, target models.Target, onHand int) error

	// Reservation store operations
	CreateReservations(ctx context.Context, tx *sqlx.Tx, reservations []*models.Reservation) error
	GetReservationsByOrderForUpdate(ctx context.Context, tx *sqlx.Tx, orderRef int64, statuses []models.ReservationStatus) ([]models.Reservation, error)
	GetReservationsByOrder(ctx context.Context, orderRef int64) ([]models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, status models.ReservationStatus) error
	ActiveReservedQty(ctx context.Context, tx *sqlx.Tx, target models.Target, now time.Time) (int, error)
	GetExpiredReservationsForUpdate(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]models.Reservation, error)

	// Inventory ledger operations (append-only)
	AppendLedgerEntry(ctx context.Context, tx *sqlx.Tx, entry *models.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, target models.Target, limit int) ([]models.LedgerEntry, error)

	// Outbox operations
	CreateOutboxEvent(ctx context.Context, tx *sqlx.Tx, eventType, key string, payload interface{}) error
}
