package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/models"
)

// AppendLedgerEntry writes one audit record. The ledger is append-only:
// there is no update or delete path anywhere in this repository. Within
// reserve/commit/release the entry shares the state change's transaction, so
// ledger and state can never disagree.
func (r *Repository) AppendLedgerEntry(ctx context.Context, tx *sqlx.Tx, entry *models.LedgerEntry) error {
	query := `INSERT INTO inventory_ledger (product_id, variant_id, change_type, qty_before, qty_delta, qty_after,
				reason, reference_id, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			  RETURNING id`

	err := tx.GetContext(ctx, &entry.ID, query,
		entry.ProductID, entry.VariantID, entry.ChangeType,
		entry.QtyBefore, entry.QtyDelta, entry.QtyAfter,
		entry.Reason, entry.ReferenceID)
	if err != nil {
		log.Error().Err(err).
			Int64("product_id", entry.ProductID).
			Str("change_type", string(entry.ChangeType)).
			Msg("Failed to append ledger entry")
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	entry.CreatedAt = time.Now()
	return nil
}

// ListLedgerEntries returns the newest entries for one target, time
// descending, for audit and reporting consumers.
func (r *Repository) ListLedgerEntries(ctx context.Context, target models.Target, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	query := `SELECT id, product_id, variant_id, change_type, qty_before, qty_delta, qty_after,
				reason, reference_id, created_at
			  FROM inventory_ledger
			  WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2
			  ORDER BY created_at DESC, id DESC
			  LIMIT $3`

	err := r.db.SelectContext(ctx, &entries, query, target.ProductID, target.VariantID, limit)
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to list ledger entries")
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	return entries, nil
}
