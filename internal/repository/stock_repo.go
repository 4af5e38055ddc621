package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/models"
)

// GetStockItem retrieves a stock item without locking it.
func (r *Repository) GetStockItem(ctx context.Context, target models.Target) (*models.StockItem, error) {
	var item models.StockItem
	query := `SELECT product_id, variant_id, on_hand_qty, tracked, active, updated_at
			  FROM stock_items
			  WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2`

	err := r.db.GetContext(ctx, &item, query, target.ProductID, target.VariantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to get stock item")
		return nil, fmt.Errorf("failed to get stock item: %w", err)
	}

	return &item, nil
}

// GetStockItemForUpdate retrieves a stock item with an exclusive row lock.
// Callers locking more than one row must pass targets through
// models.CanonicalTargets first.
func (r *Repository) GetStockItemForUpdate(ctx context.Context, tx *sqlx.Tx, target models.Target) (*models.StockItem, error) {
	var item models.StockItem
	query := `SELECT product_id, variant_id, on_hand_qty, tracked, active, updated_at
			  FROM stock_items
			  WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2
			  FOR UPDATE`

	err := tx.GetContext(ctx, &item, query, target.ProductID, target.VariantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to get stock item for update")
		return nil, fmt.Errorf("failed to get stock item for update: %w", err)
	}

	return &item, nil
}

// UpdateOnHand writes a new on-hand quantity. The row must already be locked
// by GetStockItemForUpdate in the same transaction.
func (r *Repository) UpdateOnHand(ctx context.Context, tx *sqlx.Tx, target models.Target, onHand int) error {
	query := `UPDATE stock_items
			  SET on_hand_qty = $3, updated_at = NOW()
			  WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2`

	result, err := tx.ExecContext(ctx, query, target.ProductID, target.VariantID, onHand)
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to update on-hand quantity")
		return fmt.Errorf("failed to update on-hand quantity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("stock item %s not found", target.Key())
	}

	return nil
}
