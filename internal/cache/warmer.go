package cache

import (
	"context"

	"github.com/rs/zerolog/log"

	"reservation-engine/internal/interfaces"
	"reservation-engine/internal/models"
)

// Warmer applies availability snapshots from the state topic to the cache.
// Snapshots are full state, so applying them in arrival order per target is
// enough; a dropped message is healed by the next one.
type Warmer struct {
	cache interfaces.CacheRepository
}

// NewWarmer creates a cache warmer
func NewWarmer(cache interfaces.CacheRepository) *Warmer {
	return &Warmer{cache: cache}
}

// HandleState stores one snapshot in the cache
func (w *Warmer) HandleState(ctx context.Context, state *models.StockState) error {
	if err := w.cache.SetAvailability(ctx, state); err != nil {
		return err
	}

	target := models.Target{ProductID: state.ProductID, VariantID: state.VariantID}
	log.Debug().
		Str("target", target.Key()).
		Int("available_qty", state.AvailableQty).
		Msg("Warmed availability cache")

	return nil
}
