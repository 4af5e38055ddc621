package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func variant(id int64) *int64 {
	return &id
}

func TestReservationStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    ReservationStatus
		to      ReservationStatus
		allowed bool
	}{
		{ReservationStatusReserved, ReservationStatusCommitted, true},
		{ReservationStatusReserved, ReservationStatusReleased, true},
		{ReservationStatusReserved, ReservationStatusExpired, true},
		{ReservationStatusReserved, ReservationStatusReserved, false},

		// Refund path is the only legal move out of a terminal state
		{ReservationStatusCommitted, ReservationStatusReleased, true},
		{ReservationStatusCommitted, ReservationStatusCommitted, false},
		{ReservationStatusCommitted, ReservationStatusExpired, false},
		{ReservationStatusCommitted, ReservationStatusReserved, false},

		{ReservationStatusReleased, ReservationStatusReserved, false},
		{ReservationStatusReleased, ReservationStatusCommitted, false},
		{ReservationStatusReleased, ReservationStatusExpired, false},

		{ReservationStatusExpired, ReservationStatusReserved, false},
		{ReservationStatusExpired, ReservationStatusCommitted, false},
		{ReservationStatusExpired, ReservationStatusReleased, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"transition %s -> %s", tc.from, tc.to)
	}
}

func TestReservationStatus_TransitionTo(t *testing.T) {
	next, err := ReservationStatusReserved.TransitionTo(ReservationStatusCommitted)
	assert.NoError(t, err)
	assert.Equal(t, ReservationStatusCommitted, next)

	_, err = ReservationStatusExpired.TransitionTo(ReservationStatusCommitted)
	assert.Error(t, err)

	_, err = ReservationStatusReserved.TransitionTo(ReservationStatus("BOGUS"))
	assert.Error(t, err)
}

func TestTarget_Key(t *testing.T) {
	assert.Equal(t, "42", Target{ProductID: 42}.Key())
	assert.Equal(t, "42:7", Target{ProductID: 42, VariantID: variant(7)}.Key())
}

func TestTarget_Less(t *testing.T) {
	// Ascending product id, product-level before variants, then ascending
	// variant id.
	assert.True(t, Target{ProductID: 1}.Less(Target{ProductID: 2}))
	assert.True(t, Target{ProductID: 1}.Less(Target{ProductID: 1, VariantID: variant(1)}))
	assert.True(t, Target{ProductID: 1, VariantID: variant(1)}.Less(Target{ProductID: 1, VariantID: variant(2)}))
	assert.False(t, Target{ProductID: 1, VariantID: variant(2)}.Less(Target{ProductID: 1, VariantID: variant(1)}))
	assert.False(t, Target{ProductID: 1}.Less(Target{ProductID: 1}))
}

func TestCanonicalTargets(t *testing.T) {
	targets := []Target{
		{ProductID: 3},
		{ProductID: 1, VariantID: variant(5)},
		{ProductID: 1},
		{ProductID: 3},
		{ProductID: 1, VariantID: variant(2)},
		{ProductID: 1, VariantID: variant(5)},
	}

	canonical := CanonicalTargets(targets)

	assert.Equal(t, []Target{
		{ProductID: 1},
		{ProductID: 1, VariantID: variant(2)},
		{ProductID: 1, VariantID: variant(5)},
		{ProductID: 3},
	}, canonical)
}

func TestReservation_ActiveAt(t *testing.T) {
	now := time.Now()
	res := &Reservation{
		Status:    ReservationStatusReserved,
		ExpiresAt: now.Add(time.Minute),
	}

	assert.True(t, res.ActiveAt(now))

	// Past-deadline rows stop counting even before the sweeper runs
	assert.False(t, res.ActiveAt(now.Add(2*time.Minute)))

	res.Status = ReservationStatusCommitted
	assert.False(t, res.ActiveAt(now))

	res.Status = ReservationStatusExpired
	assert.False(t, res.ActiveAt(now))
}

func TestInsufficientStockError_Error(t *testing.T) {
	err := &InsufficientStockError{Targets: []InsufficientTarget{
		{Target: Target{ProductID: 1}, Requested: 5, Available: 3},
		{Target: Target{ProductID: 2, VariantID: variant(9)}, Requested: 2, Available: 0},
	}}

	assert.Equal(t, "insufficient stock: 1 requested 5 available 3; 2:9 requested 2 available 0", err.Error())
}
