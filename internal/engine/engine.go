package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/interfaces"
	"reservation-engine/internal/models"
)

// Engine owns the reservation lifecycle: reserve, commit, release, expire.
// Correctness under concurrency comes from database row locks acquired in
// canonical target order inside a single transaction per operation; the
// engine holds no in-process shared state.
type Engine struct {
	repo  interfaces.Repository
	cache interfaces.CacheRepository
	cfg   Config
	now   func() time.Time
}

// Config holds engine configuration
type Config struct {
	ReservationTimeout time.Duration
	SweepBatchSize     int
}

// Validate validates the engine configuration
func (c Config) Validate() error {
	if c.ReservationTimeout < time.Minute {
		return fmt.Errorf("reservation timeout must be at least 1 minute, got %v", c.ReservationTimeout)
	}
	if c.SweepBatchSize < 1 {
		return fmt.Errorf("sweep batch size must be positive, got %d", c.SweepBatchSize)
	}
	return nil
}

// NewEngine creates a new reservation engine with dependency injection and validation
func NewEngine(repo interfaces.Repository, cache interfaces.CacheRepository, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	return &Engine{
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		now:   time.Now,
	}, nil
}

// AvailableQty is the availability calculation: sellable quantity for one
// target given its on-hand count and the quantity held by active
// reservations. Untracked items report an unbounded sentinel and never run
// out.
func AvailableQty(item *models.StockItem, activeReserved int) int {
	if !item.Tracked {
		return models.UnboundedAvailability
	}
	if avail := item.OnHandQty - activeReserved; avail > 0 {
		return avail
	}
	return 0
}

// Reserve places an all-or-nothing hold for every line item of an order.
// Stock rows are locked in canonical target order, availability is computed
// inside the lock scope, and any shortfall rolls back the entire batch.
// On-hand quantity is never touched here; the hold only reduces computed
// availability.
func (e *Engine) Reserve(ctx context.Context, orderRef int64, req *models.ReserveRequest) (*models.ReserveResponse, error) {
	if err := validateReserveRequest(orderRef, req); err != nil {
		return nil, err
	}

	// Aggregate requested quantity per distinct target; duplicate lines for
	// the same target must pass the availability check combined.
	targets := make([]models.Target, 0, len(req.Items))
	requested := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		t := item.Target()
		targets = append(targets, t)
		requested[t.Key()] += item.Qty
	}
	targets = models.CanonicalTargets(targets)

	now := e.now()
	expiresAt := now.Add(e.cfg.ReservationTimeout)
	created := make([]*models.Reservation, 0, len(req.Items))

	err := e.repo.RunInTx(ctx, func(tx *sqlx.Tx) error {
		locked := make(map[string]*models.StockItem, len(targets))
		var short []models.InsufficientTarget

		for _, t := range targets {
			item, err := e.repo.GetStockItemForUpdate(ctx, tx, t)
			if err != nil {
				return err
			}
			if item == nil {
				return models.NewNotFoundError("stock item", t.Key())
			}
			if !item.Active {
				return models.NewTargetInactiveError(t.Key())
			}
			locked[t.Key()] = item

			if !item.Tracked {
				continue
			}

			held, err := e.repo.ActiveReservedQty(ctx, tx, t, now)
			if err != nil {
				return err
			}
			if available := AvailableQty(item, held); requested[t.Key()] > available {
				short = append(short, models.InsufficientTarget{
					Target:    t,
					Requested: requested[t.Key()],
					Available: available,
				})
			}
		}

		if len(short) > 0 {
			return &models.InsufficientStockError{Targets: short}
		}

		for _, line := range req.Items {
			created = append(created, &models.Reservation{
				ReservationID: uuid.New(),
				ProductID:     line.ProductID,
				VariantID:     line.VariantID,
				Qty:           line.Qty,
				Status:        models.ReservationStatusReserved,
				ExpiresAt:     expiresAt,
				OrderRef:      &orderRef,
				CartID:        req.CartID,
				SessionID:     req.SessionID,
			})
		}

		if err := e.repo.CreateReservations(ctx, tx, created); err != nil {
			return err
		}

		for _, res := range created {
			item := locked[res.Target().Key()]
			entry := &models.LedgerEntry{
				ProductID:   res.ProductID,
				VariantID:   res.VariantID,
				ChangeType:  models.LedgerChangeReserved,
				QtyBefore:   item.OnHandQty,
				QtyDelta:    -res.Qty,
				QtyAfter:    item.OnHandQty,
				Reason:      fmt.Sprintf("reserved for order %d", orderRef),
				ReferenceID: &res.ReservationID,
			}
			if err := e.repo.AppendLedgerEntry(ctx, tx, entry); err != nil {
				return err
			}
			if err := e.enqueueEvent(ctx, tx, models.EventTypeStockReserved, res, now); err != nil {
				return err
			}
		}

		return e.enqueueStates(ctx, tx, locked, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("order_ref", orderRef).
		Int("reservations", len(created)).
		Time("expires_at", expiresAt).
		Msg("Reserved stock")

	e.invalidateTargets(targets)

	resp := &models.ReserveResponse{OrderRef: orderRef, ExpiresAt: expiresAt}
	for _, res := range created {
		resp.Reservations = append(resp.Reservations, models.NewReservationResponse(res))
	}
	return resp, nil
}

// Commit converts an order's holds into permanent stock deductions. This is
// the point where inventory is actually consumed. Only reservations still
// RESERVED are acted on: a hold expired by the sweeper in between is silently
// skipped. Re-invocation is a no-op.
func (e *Engine) Commit(ctx context.Context, orderRef int64) (*models.CommitResponse, error) {
	if orderRef <= 0 {
		return nil, models.NewValidationError("order_ref", "order ref must be positive", orderRef)
	}

	now := e.now()
	var committed int
	var touched []models.Target

	err := e.repo.RunInTx(ctx, func(tx *sqlx.Tx) error {
		reservations, err := e.repo.GetReservationsByOrderForUpdate(ctx, tx, orderRef,
			[]models.ReservationStatus{models.ReservationStatusReserved})
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return nil
		}

		locked, err := e.lockStockRows(ctx, tx, reservations)
		if err != nil {
			return err
		}

		for i := range reservations {
			res := &reservations[i]
			next, err := res.Status.TransitionTo(models.ReservationStatusCommitted)
			if err != nil {
				return err
			}

			item := locked[res.Target().Key()]
			before := item.OnHandQty
			// Untracked items are not pool-limited: their holds may exceed
			// on-hand, so committing them must not deduct it.
			if item.Tracked {
				item.OnHandQty -= res.Qty
				if err := e.repo.UpdateOnHand(ctx, tx, res.Target(), item.OnHandQty); err != nil {
					return err
				}
			}
			if err := e.repo.UpdateReservationStatus(ctx, tx, res.ReservationID, next); err != nil {
				return err
			}

			entry := &models.LedgerEntry{
				ProductID:   res.ProductID,
				VariantID:   res.VariantID,
				ChangeType:  models.LedgerChangeCommitted,
				QtyBefore:   before,
				QtyDelta:    -res.Qty,
				QtyAfter:    item.OnHandQty,
				Reason:      fmt.Sprintf("committed for order %d", orderRef),
				ReferenceID: &res.ReservationID,
			}
			if err := e.repo.AppendLedgerEntry(ctx, tx, entry); err != nil {
				return err
			}
			if err := e.enqueueEvent(ctx, tx, models.EventTypeStockCommitted, res, now); err != nil {
				return err
			}
			committed++
		}

		touched = targetsOf(locked)
		return e.enqueueStates(ctx, tx, locked, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("order_ref", orderRef).Int("committed", committed).Msg("Committed reservations")
	e.invalidateTargets(touched)

	return &models.CommitResponse{OrderRef: orderRef, Committed: committed}, nil
}

// Release returns an order's holds to the pool, for cancellations and
// refunds. A reservation that was already committed restores on-hand
// quantity; one still reserved only flips status, since its quantity was
// never deducted. Re-invocation is a no-op.
func (e *Engine) Release(ctx context.Context, orderRef int64) (*models.ReleaseResponse, error) {
	if orderRef <= 0 {
		return nil, models.NewValidationError("order_ref", "order ref must be positive", orderRef)
	}

	now := e.now()
	var released int
	var touched []models.Target

	err := e.repo.RunInTx(ctx, func(tx *sqlx.Tx) error {
		reservations, err := e.repo.GetReservationsByOrderForUpdate(ctx, tx, orderRef,
			[]models.ReservationStatus{models.ReservationStatusReserved, models.ReservationStatusCommitted})
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return nil
		}

		locked, err := e.lockStockRows(ctx, tx, reservations)
		if err != nil {
			return err
		}

		for i := range reservations {
			res := &reservations[i]
			wasCommitted := res.Status == models.ReservationStatusCommitted
			next, err := res.Status.TransitionTo(models.ReservationStatusReleased)
			if err != nil {
				return err
			}

			item := locked[res.Target().Key()]
			before := item.OnHandQty
			// Mirror of commit: only tracked items had on-hand deducted, so
			// only tracked items get it back.
			if wasCommitted && item.Tracked {
				item.OnHandQty += res.Qty
				if err := e.repo.UpdateOnHand(ctx, tx, res.Target(), item.OnHandQty); err != nil {
					return err
				}
			}

			if err := e.repo.UpdateReservationStatus(ctx, tx, res.ReservationID, next); err != nil {
				return err
			}

			entry := &models.LedgerEntry{
				ProductID:   res.ProductID,
				VariantID:   res.VariantID,
				ChangeType:  models.LedgerChangeReleased,
				QtyBefore:   before,
				QtyDelta:    res.Qty,
				QtyAfter:    item.OnHandQty,
				Reason:      fmt.Sprintf("released for order %d", orderRef),
				ReferenceID: &res.ReservationID,
			}
			if err := e.repo.AppendLedgerEntry(ctx, tx, entry); err != nil {
				return err
			}
			if err := e.enqueueEvent(ctx, tx, models.EventTypeStockReleased, res, now); err != nil {
				return err
			}
			released++
		}

		touched = targetsOf(locked)
		return e.enqueueStates(ctx, tx, locked, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("order_ref", orderRef).Int("released", released).Msg("Released reservations")
	e.invalidateTargets(touched)

	return &models.ReleaseResponse{OrderRef: orderRef, Released: released}, nil
}

// SweepExpired expires reservations past their deadline and returns the
// count. On-hand quantity is never touched: the capacity was only ever
// soft-held, and the availability calculation had already stopped counting
// these rows the moment their deadline passed. SKIP LOCKED row selection
// makes concurrent sweeper passes divide the work instead of colliding.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	now := e.now()
	var expired int
	var touched []models.Target

	err := e.repo.RunInTx(ctx, func(tx *sqlx.Tx) error {
		reservations, err := e.repo.GetExpiredReservationsForUpdate(ctx, tx, now, e.cfg.SweepBatchSize)
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return nil
		}

		seen := make(map[string]*models.StockItem)
		for i := range reservations {
			res := &reservations[i]
			next, err := res.Status.TransitionTo(models.ReservationStatusExpired)
			if err != nil {
				return err
			}

			item := seen[res.Target().Key()]
			if item == nil {
				// Plain read: the sweep never mutates on-hand, so no stock
				// row lock is needed here.
				item, err = e.repo.GetStockItem(ctx, res.Target())
				if err != nil {
					return err
				}
				if item == nil {
					item = &models.StockItem{ProductID: res.ProductID, VariantID: res.VariantID}
				}
				seen[res.Target().Key()] = item
			}

			if err := e.repo.UpdateReservationStatus(ctx, tx, res.ReservationID, next); err != nil {
				return err
			}

			entry := &models.LedgerEntry{
				ProductID:   res.ProductID,
				VariantID:   res.VariantID,
				ChangeType:  models.LedgerChangeExpired,
				QtyBefore:   item.OnHandQty,
				QtyDelta:    res.Qty,
				QtyAfter:    item.OnHandQty,
				Reason:      "reservation deadline passed",
				ReferenceID: &res.ReservationID,
			}
			if err := e.repo.AppendLedgerEntry(ctx, tx, entry); err != nil {
				return err
			}
			if err := e.enqueueEvent(ctx, tx, models.EventTypeStockExpired, res, now); err != nil {
				return err
			}
			expired++
		}

		touched = targetsOf(seen)
		return e.enqueueStates(ctx, tx, seen, now)
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Msg("Swept expired reservations")
		e.invalidateTargets(touched)
	}

	return expired, nil
}

// GetAvailability returns the sellable quantity for one target, checking the
// cache first and falling back to the database.
func (e *Engine) GetAvailability(ctx context.Context, target models.Target) (*models.AvailabilityResponse, error) {
	if state, err := e.cache.GetAvailability(ctx, target); err != nil {
		log.Debug().Err(err).Str("target", target.Key()).Msg("Cache error, falling back to database")
	} else if state != nil {
		return availabilityFromState(state, true), nil
	}

	item, err := e.repo.GetStockItem(ctx, target)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, models.NewNotFoundError("stock item", target.Key())
	}

	held, err := e.repo.ActiveReservedQty(ctx, nil, target, e.now())
	if err != nil {
		return nil, err
	}

	state := stateFor(item, held)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.cache.SetAvailability(ctx, state); err != nil {
			log.Error().Err(err).Str("target", target.Key()).Msg("Failed to update cache")
		}
	}()

	return availabilityFromState(state, false), nil
}

// GetOrderReservations lists every reservation linked to an order for
// lookup/debugging.
func (e *Engine) GetOrderReservations(ctx context.Context, orderRef int64) ([]models.Reservation, error) {
	if orderRef <= 0 {
		return nil, models.NewValidationError("order_ref", "order ref must be positive", orderRef)
	}
	return e.repo.GetReservationsByOrder(ctx, orderRef)
}

// GetLedger returns the newest ledger entries for one target, time descending.
func (e *Engine) GetLedger(ctx context.Context, target models.Target, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.repo.ListLedgerEntries(ctx, target, limit)
}

// AdjustStock applies a manual on-hand correction with an audit reason, for
// catalog/ops use. The adjustment may not drive on-hand negative.
func (e *Engine) AdjustStock(ctx context.Context, target models.Target, delta int, reason string) (*models.StockItem, error) {
	if delta == 0 {
		return nil, models.NewValidationError("delta", "delta must be non-zero", delta)
	}
	if reason == "" {
		return nil, models.NewValidationError("reason", "reason is required", reason)
	}

	now := e.now()
	var adjusted *models.StockItem

	err := e.repo.RunInTx(ctx, func(tx *sqlx.Tx) error {
		item, err := e.repo.GetStockItemForUpdate(ctx, tx, target)
		if err != nil {
			return err
		}
		if item == nil {
			return models.NewNotFoundError("stock item", target.Key())
		}

		before := item.OnHandQty
		item.OnHandQty += delta
		if item.OnHandQty < 0 {
			return models.NewValidationError("delta", "adjustment would drive on-hand negative", delta)
		}

		if err := e.repo.UpdateOnHand(ctx, tx, target, item.OnHandQty); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			ChangeType: models.LedgerChangeManual,
			QtyBefore:  before,
			QtyDelta:   delta,
			QtyAfter:   item.OnHandQty,
			Reason:     reason,
		}
		if err := e.repo.AppendLedgerEntry(ctx, tx, entry); err != nil {
			return err
		}

		event := &models.StockEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockAdjusted,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Qty:       delta,
			Timestamp: now,
		}
		if err := e.repo.CreateOutboxEvent(ctx, tx, event.EventType, target.Key(), event); err != nil {
			return err
		}

		adjusted = item
		return e.enqueueStates(ctx, tx, map[string]*models.StockItem{target.Key(): item}, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("target", target.Key()).Int("delta", delta).Str("reason", reason).Msg("Adjusted stock")
	e.invalidateTargets([]models.Target{target})

	return adjusted, nil
}

// Internal helpers

func validateReserveRequest(orderRef int64, req *models.ReserveRequest) error {
	if orderRef <= 0 {
		return models.NewValidationError("order_ref", "order ref must be positive", orderRef)
	}
	if req == nil || len(req.Items) == 0 {
		return models.NewValidationError("items", "at least one item is required", nil)
	}
	if req.CartID != nil && req.SessionID != nil {
		return models.NewValidationError("cart_id", "at most one ownership context may be set", nil)
	}
	for i, item := range req.Items {
		if item.ProductID <= 0 {
			return models.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "product id must be positive", item.ProductID)
		}
		if item.VariantID != nil && *item.VariantID <= 0 {
			return models.NewValidationError(fmt.Sprintf("items[%d].variant_id", i), "variant id must be positive", *item.VariantID)
		}
		if item.Qty <= 0 {
			return models.NewValidationError(fmt.Sprintf("items[%d].qty", i), "quantity must be positive", item.Qty)
		}
	}
	return nil
}

// lockStockRows locks the stock rows behind a set of reservations in
// canonical target order.
func (e *Engine) lockStockRows(ctx context.Context, tx *sqlx.Tx, reservations []models.Reservation) (map[string]*models.StockItem, error) {
	targets := make([]models.Target, 0, len(reservations))
	for i := range reservations {
		targets = append(targets, reservations[i].Target())
	}

	locked := make(map[string]*models.StockItem, len(targets))
	for _, t := range models.CanonicalTargets(targets) {
		item, err := e.repo.GetStockItemForUpdate(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, models.NewNotFoundError("stock item", t.Key())
		}
		locked[t.Key()] = item
	}

	return locked, nil
}

func (e *Engine) enqueueEvent(ctx context.Context, tx *sqlx.Tx, eventType string, res *models.Reservation, now time.Time) error {
	event := &models.StockEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		ProductID:     res.ProductID,
		VariantID:     res.VariantID,
		Qty:           res.Qty,
		ReservationID: &res.ReservationID,
		OrderRef:      res.OrderRef,
		Timestamp:     now,
	}
	return e.repo.CreateOutboxEvent(ctx, tx, eventType, res.Target().Key(), event)
}

// enqueueStates writes one availability snapshot per touched target to the
// outbox. The active-reserved sum runs inside the same transaction, so the
// snapshot reflects the rows written above it.
func (e *Engine) enqueueStates(ctx context.Context, tx *sqlx.Tx, items map[string]*models.StockItem, now time.Time) error {
	for _, item := range items {
		held, err := e.repo.ActiveReservedQty(ctx, tx, item.Target(), now)
		if err != nil {
			return err
		}
		state := stateFor(item, held)
		if err := e.repo.CreateOutboxEvent(ctx, tx, models.EventTypeStockState, item.Target().Key(), state); err != nil {
			return err
		}
	}
	return nil
}

// invalidateTargets drops cached availability after a state change,
// best-effort and off the request path.
func (e *Engine) invalidateTargets(targets []models.Target) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, t := range targets {
			if err := e.cache.DeleteAvailability(ctx, t); err != nil {
				log.Error().Err(err).Str("target", t.Key()).Msg("Failed to invalidate cache")
			}
		}
	}()
}

func targetsOf(items map[string]*models.StockItem) []models.Target {
	targets := make([]models.Target, 0, len(items))
	for _, item := range items {
		targets = append(targets, item.Target())
	}
	return targets
}

func stateFor(item *models.StockItem, held int) *models.StockState {
	return &models.StockState{
		ProductID:      item.ProductID,
		VariantID:      item.VariantID,
		OnHandQty:      item.OnHandQty,
		ActiveReserved: held,
		AvailableQty:   AvailableQty(item, held),
		Tracked:        item.Tracked,
		UpdatedAt:      item.UpdatedAt,
	}
}

func availabilityFromState(state *models.StockState, cacheHit bool) *models.AvailabilityResponse {
	return &models.AvailabilityResponse{
		ProductID:      state.ProductID,
		VariantID:      state.VariantID,
		OnHandQty:      state.OnHandQty,
		ActiveReserved: state.ActiveReserved,
		AvailableQty:   state.AvailableQty,
		Tracked:        state.Tracked,
		CacheHit:       cacheHit,
		LastUpdated:    state.UpdatedAt,
	}
}
