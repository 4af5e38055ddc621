package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/models"
)

const reservationColumns = `reservation_id, product_id, variant_id, qty, status, expires_at,
	order_ref, cart_id, session_id, created_at, updated_at`

// CreateReservations inserts a batch of reservations. All rows land in the
// caller's transaction so one failed insert reverts the whole batch.
func (r *Repository) CreateReservations(ctx context.Context, tx *sqlx.Tx, reservations []*models.Reservation) error {
	query := `INSERT INTO reservations (reservation_id, product_id, variant_id, qty, status, expires_at,
				order_ref, cart_id, session_id, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`

	now := time.Now()
	for _, res := range reservations {
		_, err := tx.ExecContext(ctx, query,
			res.ReservationID, res.ProductID, res.VariantID, res.Qty, res.Status,
			res.ExpiresAt, res.OrderRef, res.CartID, res.SessionID)
		if err != nil {
			log.Error().Err(err).
				Str("reservation_id", res.ReservationID.String()).
				Str("target", res.Target().Key()).
				Msg("Failed to create reservation")
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		res.CreatedAt = now
		res.UpdatedAt = now
	}

	return nil
}

// GetReservationsByOrderForUpdate loads an order's reservations in the given
// statuses with row locks, so a concurrent commit/release/sweep of the same
// reservation blocks until this transaction finishes.
func (r *Repository) GetReservationsByOrderForUpdate(ctx context.Context, tx *sqlx.Tx, orderRef int64, statuses []models.ReservationStatus) ([]models.Reservation, error) {
	strs := make([]string, 0, len(statuses))
	for _, s := range statuses {
		strs = append(strs, string(s))
	}

	var reservations []models.Reservation
	query := `SELECT ` + reservationColumns + `
			  FROM reservations
			  WHERE order_ref = $1 AND status = ANY($2)
			  ORDER BY reservation_id ASC
			  FOR UPDATE`

	err := tx.SelectContext(ctx, &reservations, query, orderRef, pq.Array(strs))
	if err != nil {
		log.Error().Err(err).Int64("order_ref", orderRef).Msg("Failed to get reservations for order")
		return nil, fmt.Errorf("failed to get reservations for order: %w", err)
	}

	return reservations, nil
}

// GetReservationsByOrder loads every reservation linked to an order,
// regardless of status. Lookup/debugging only.
func (r *Repository) GetReservationsByOrder(ctx context.Context, orderRef int64) ([]models.Reservation, error) {
	var reservations []models.Reservation
	query := `SELECT ` + reservationColumns + `
			  FROM reservations
			  WHERE order_ref = $1
			  ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &reservations, query, orderRef)
	if err != nil {
		log.Error().Err(err).Int64("order_ref", orderRef).Msg("Failed to list reservations for order")
		return nil, fmt.Errorf("failed to list reservations for order: %w", err)
	}

	return reservations, nil
}

// UpdateReservationStatus updates the status of a reservation
func (r *Repository) UpdateReservationStatus(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, status models.ReservationStatus) error {
	query := `UPDATE reservations SET status = $2, updated_at = NOW() WHERE reservation_id = $1`

	result, err := tx.ExecContext(ctx, query, reservationID, status)
	if err != nil {
		log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("Failed to update reservation status")
		return fmt.Errorf("failed to update reservation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("reservation not found")
	}

	return nil
}

// ActiveReservedQty sums the quantity held by active reservations for one
// target. Runs inside the caller's transaction so the sum is consistent with
// the stock row lock held by the same transaction; the expires_at filter
// excludes lapsed holds without waiting for the sweeper.
func (r *Repository) ActiveReservedQty(ctx context.Context, tx *sqlx.Tx, target models.Target, now time.Time) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(qty), 0)
			  FROM reservations
			  WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2
			    AND status = $3 AND expires_at > $4`

	// Usable both inside a locking transaction and as a plain read.
	var q sqlx.QueryerContext = r.db
	if tx != nil {
		q = tx
	}

	err := sqlx.GetContext(ctx, q, &total, query, target.ProductID, target.VariantID, models.ReservationStatusReserved, now)
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to sum active reservations")
		return 0, fmt.Errorf("failed to sum active reservations: %w", err)
	}

	return total, nil
}

// GetExpiredReservationsForUpdate selects reservations past their deadline
// and still RESERVED, locking them with SKIP LOCKED so concurrent sweeper
// passes divide the work instead of blocking or double-expiring.
func (r *Repository) GetExpiredReservationsForUpdate(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]models.Reservation, error) {
	var reservations []models.Reservation
	query := `SELECT ` + reservationColumns + `
			  FROM reservations
			  WHERE status = $1 AND expires_at <= $2
			  ORDER BY expires_at ASC
			  LIMIT $3
			  FOR UPDATE SKIP LOCKED`

	err := tx.SelectContext(ctx, &reservations, query, models.ReservationStatusReserved, now, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get expired reservations")
		return nil, fmt.Errorf("failed to get expired reservations: %w", err)
	}

	return reservations, nil
}
