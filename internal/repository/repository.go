package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/models"
)

// Repository is the Postgres adapter for the stock ledger, reservation store,
// inventory ledger and outbox.
type Repository struct {
	db         *sqlx.DB
	outboxRepo *OutboxRepository
}

// NewRepository creates a new Postgres repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db:         db,
		outboxRepo: NewOutboxRepository(db),
	}
}

// RunInTx runs fn inside one transaction: commits when fn returns nil, rolls
// back otherwise. Every public engine operation spans exactly one such call,
// so row locks taken by fn are held until commit.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return models.NewSystemError(models.ErrorCodeDatabaseError, "postgres", "failed to begin transaction", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return models.NewSystemError(models.ErrorCodeDatabaseError, "postgres", "failed to commit transaction", err)
	}
	return nil
}
