package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the closed set of reservation states. Transitions are
// only legal through TransitionTo; RESERVED is the initial state and
// COMMITTED -> RELEASED (the refund path) is the only move out of a terminal
// state.
type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusCommitted ReservationStatus = "COMMITTED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusReserved, ReservationStatusCommitted,
		ReservationStatusReleased, ReservationStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	switch s {
	case ReservationStatusReserved:
		return next == ReservationStatusCommitted ||
			next == ReservationStatusReleased ||
			next == ReservationStatusExpired
	case ReservationStatusCommitted:
		return next == ReservationStatusReleased
	case ReservationStatusReleased, ReservationStatusExpired:
		return false
	}
	return false
}

// TransitionTo validates the move from s to next and returns the new status.
func (s ReservationStatus) TransitionTo(next ReservationStatus) (ReservationStatus, error) {
	if !next.Valid() {
		return s, fmt.Errorf("unknown reservation status %q", next)
	}
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("illegal reservation transition %s -> %s", s, next)
	}
	return next, nil
}

// LedgerChangeType classifies an inventory ledger entry.
type LedgerChangeType string

const (
	LedgerChangeReserved  LedgerChangeType = "RESERVED"
	LedgerChangeCommitted LedgerChangeType = "COMMITTED"
	LedgerChangeReleased  LedgerChangeType = "RELEASED"
	LedgerChangeExpired   LedgerChangeType = "EXPIRED"
	LedgerChangeManual    LedgerChangeType = "MANUAL"
)

// Event types for Kafka messages
const (
	EventTypeStockReserved  = "stock_reserved"
	EventTypeStockCommitted = "stock_committed"
	EventTypeStockReleased  = "stock_released"
	EventTypeStockExpired   = "stock_expired"
	EventTypeStockAdjusted  = "stock_adjusted"
	EventTypeStockState     = "stock_state"
)

// UnboundedAvailability is reported for untracked stock items, which are
// treated as always available.
const UnboundedAvailability = 1<<31 - 1

// Target identifies one stock pool: a product, or a specific variant of a
// product. Variant-level and product-level pools are tracked independently.
type Target struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
}

// Key renders the target as a stable string, used for cache keys, Kafka
// partitioning and error detail.
func (t Target) Key() string {
	if t.VariantID != nil {
		return fmt.Sprintf("%d:%d", t.ProductID, *t.VariantID)
	}
	return fmt.Sprintf("%d", t.ProductID)
}

// Less defines the canonical lock order over targets: ascending product id,
// product-level rows before variant rows, then ascending variant id. Every
// transaction that locks more than one stock row must acquire locks in this
// order so that no two concurrent calls can circular-wait on each other.
func (t Target) Less(other Target) bool {
	if t.ProductID != other.ProductID {
		return t.ProductID < other.ProductID
	}
	if (t.VariantID == nil) != (other.VariantID == nil) {
		return t.VariantID == nil
	}
	if t.VariantID == nil {
		return false
	}
	return *t.VariantID < *other.VariantID
}

// CanonicalTargets deduplicates targets and sorts them into the canonical
// lock order. Every caller that locks multiple stock rows goes through this,
// which is what makes concurrent reserve/commit/release calls deadlock-free.
func CanonicalTargets(targets []Target) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		dup := false
		for _, seen := range out {
			if seen.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Equal reports whether both targets address the same stock pool.
func (t Target) Equal(other Target) bool {
	if t.ProductID != other.ProductID {
		return false
	}
	if (t.VariantID == nil) != (other.VariantID == nil) {
		return false
	}
	return t.VariantID == nil || *t.VariantID == *other.VariantID
}

// Domain Models

// StockItem is the durable on-hand record for one target. Untracked items
// never run out. The engine only mutates OnHandQty under a row lock; catalog
// management owns creation.
type StockItem struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	VariantID *int64    `db:"variant_id" json:"variant_id,omitempty"`
	OnHandQty int       `db:"on_hand_qty" json:"on_hand_qty"`
	Tracked   bool      `db:"tracked" json:"tracked"`
	Active    bool      `db:"active" json:"active"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Target returns the stock pool this item backs.
func (s *StockItem) Target() Target {
	return Target{ProductID: s.ProductID, VariantID: s.VariantID}
}

// Reservation is a temporary hold on quantity. Qty is immutable once created;
// only Status transitions. At most one of OrderRef/CartID/SessionID is set
// and it is used for lookup only, never for correctness.
type Reservation struct {
	ReservationID uuid.UUID         `db:"reservation_id" json:"reservation_id"`
	ProductID     int64             `db:"product_id" json:"product_id"`
	VariantID     *int64            `db:"variant_id" json:"variant_id,omitempty"`
	Qty           int               `db:"qty" json:"qty"`
	Status        ReservationStatus `db:"status" json:"status"`
	ExpiresAt     time.Time         `db:"expires_at" json:"expires_at"`
	OrderRef      *int64            `db:"order_ref" json:"order_ref,omitempty"`
	CartID        *string           `db:"cart_id" json:"cart_id,omitempty"`
	SessionID     *string           `db:"session_id" json:"session_id,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// Target returns the stock pool this reservation holds against.
func (r *Reservation) Target() Target {
	return Target{ProductID: r.ProductID, VariantID: r.VariantID}
}

// ActiveAt reports whether the reservation still counts against availability
// at the given instant. Expired-but-not-yet-swept rows are excluded here, so
// the availability calculation never depends on the sweeper having run.
func (r *Reservation) ActiveAt(now time.Time) bool {
	return r.Status == ReservationStatusReserved && r.ExpiresAt.After(now)
}

// LedgerEntry is one append-only audit record for a quantity change. Entries
// are never updated or deleted, and are never read back by the availability
// calculation. QtyBefore/QtyAfter record on-hand around the entry; for holds
// and expirations on-hand is untouched so the delta is informational.
type LedgerEntry struct {
	ID          int64            `db:"id" json:"id"`
	ProductID   int64            `db:"product_id" json:"product_id"`
	VariantID   *int64           `db:"variant_id" json:"variant_id,omitempty"`
	ChangeType  LedgerChangeType `db:"change_type" json:"change_type"`
	QtyBefore   int              `db:"qty_before" json:"qty_before"`
	QtyDelta    int              `db:"qty_delta" json:"qty_delta"`
	QtyAfter    int              `db:"qty_after" json:"qty_after"`
	Reason      string           `db:"reason" json:"reason"`
	ReferenceID *uuid.UUID       `db:"reference_id" json:"reference_id,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// OutboxEvent is one row of the transactional outbox. Events are written in
// the same transaction as the state change they describe and drained to Kafka
// by the publisher loop.
type OutboxEvent struct {
	ID              int64     `db:"id" json:"id"`
	EventType       string    `db:"event_type" json:"event_type"`
	Key             string    `db:"key" json:"key"`
	Payload         string    `db:"payload" json:"payload"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	Published       bool      `db:"published" json:"published"`
	PublishAttempts int       `db:"publish_attempts" json:"publish_attempts"`
	LastError       *string   `db:"last_error" json:"last_error,omitempty"`
}

// StockEvent is published to the events topic for every reservation state
// transition and manual adjustment.
type StockEvent struct {
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	ProductID     int64      `json:"product_id"`
	VariantID     *int64     `json:"variant_id,omitempty"`
	Qty           int        `json:"qty"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
	OrderRef      *int64     `json:"order_ref,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// StockState is the current availability snapshot published to the state
// topic after each change; the reader service consumes it to keep the cache
// warm.
type StockState struct {
	ProductID      int64     `json:"product_id"`
	VariantID      *int64    `json:"variant_id,omitempty"`
	OnHandQty      int       `json:"on_hand_qty"`
	ActiveReserved int       `json:"active_reserved"`
	AvailableQty   int       `json:"available_qty"`
	Tracked        bool      `json:"tracked"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// API Request Models

// ReserveItem is one line of a reserve call.
type ReserveItem struct {
	ProductID int64  `json:"product_id" binding:"required,min=1" validate:"required,min=1"`
	VariantID *int64 `json:"variant_id,omitempty" validate:"omitempty,min=1"`
	Qty       int    `json:"qty" binding:"required,min=1" validate:"required,min=1"`
}

// Target returns the stock pool this line requests.
func (i ReserveItem) Target() Target {
	return Target{ProductID: i.ProductID, VariantID: i.VariantID}
}

// ReserveRequest asks for an all-or-nothing hold across every line item.
type ReserveRequest struct {
	Items     []ReserveItem `json:"items" binding:"required,min=1,dive" validate:"required,min=1,dive"`
	CartID    *string       `json:"cart_id,omitempty"`
	SessionID *string       `json:"session_id,omitempty"`
}

// AdjustRequest sets a new on-hand quantity with an audit reason.
type AdjustRequest struct {
	VariantID *int64 `json:"variant_id,omitempty"`
	Delta     int    `json:"delta" binding:"required" validate:"required"`
	Reason    string `json:"reason" binding:"required" validate:"required"`
}

// API Response Models

// ReserveResponse reports the holds created by one reserve call.
type ReserveResponse struct {
	OrderRef     int64                 `json:"order_ref"`
	Reservations []ReservationResponse `json:"reservations"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

// ReservationResponse is the outward shape of one reservation.
type ReservationResponse struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	ProductID     int64             `json:"product_id"`
	VariantID     *int64            `json:"variant_id,omitempty"`
	Qty           int               `json:"qty"`
	Status        ReservationStatus `json:"status"`
	ExpiresAt     time.Time         `json:"expires_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewReservationResponse maps a reservation to its API shape.
func NewReservationResponse(r *Reservation) ReservationResponse {
	return ReservationResponse{
		ReservationID: r.ReservationID,
		ProductID:     r.ProductID,
		VariantID:     r.VariantID,
		Qty:           r.Qty,
		Status:        r.Status,
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
	}
}

// CommitResponse reports how many reservations a commit call acted on.
type CommitResponse struct {
	OrderRef  int64 `json:"order_ref"`
	Committed int   `json:"committed"`
}

// ReleaseResponse reports how many reservations a release call acted on.
type ReleaseResponse struct {
	OrderRef int64 `json:"order_ref"`
	Released int   `json:"released"`
}

// SweepResponse reports the outcome of one sweeper pass.
type SweepResponse struct {
	Expired int `json:"expired"`
}

// AvailabilityResponse is the sellable quantity for one target.
type AvailabilityResponse struct {
	ProductID      int64     `json:"product_id"`
	VariantID      *int64    `json:"variant_id,omitempty"`
	OnHandQty      int       `json:"on_hand_qty"`
	ActiveReserved int       `json:"active_reserved"`
	AvailableQty   int       `json:"available_qty"`
	Tracked        bool      `json:"tracked"`
	CacheHit       bool      `json:"cache_hit"`
	LastUpdated    time.Time `json:"last_updated"`
}
