package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"reservation-engine/internal/models"
)

// MockCacheRepository implements interfaces.CacheRepository for testing
type MockCacheRepository struct {
	mock.Mock
}

func (m *MockCacheRepository) GetAvailability(ctx context.Context, target models.Target) (*models.StockState, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockState), args.Error(1)
}

func (m *MockCacheRepository) SetAvailability(ctx context.Context, state *models.StockState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockCacheRepository) DeleteAvailability(ctx context.Context, target models.Target) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

func (m *MockCacheRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func variant(id int64) *int64 {
	return &id
}

func TestAvailabilityKey(t *testing.T) {
	c := &Client{keyPrefix: "stock:", ttl: time.Minute}

	assert.Equal(t, "stock:availability:42", c.availabilityKey(models.Target{ProductID: 42}))
	assert.Equal(t, "stock:availability:42:7", c.availabilityKey(models.Target{ProductID: 42, VariantID: variant(7)}))

	// No prefix configured means bare keys
	bare := &Client{ttl: time.Minute}
	assert.Equal(t, "availability:42", bare.availabilityKey(models.Target{ProductID: 42}))
}

func TestWarmer_HandleState(t *testing.T) {
	mockCache := new(MockCacheRepository)
	warmer := NewWarmer(mockCache)

	state := &models.StockState{
		ProductID:      1,
		OnHandQty:      10,
		ActiveReserved: 3,
		AvailableQty:   7,
		Tracked:        true,
		UpdatedAt:      time.Now(),
	}

	mockCache.On("SetAvailability", mock.Anything, state).Return(nil)

	err := warmer.HandleState(context.Background(), state)

	assert.NoError(t, err)
	mockCache.AssertExpectations(t)
}

func TestWarmer_HandleState_CacheError(t *testing.T) {
	mockCache := new(MockCacheRepository)
	warmer := NewWarmer(mockCache)

	state := &models.StockState{ProductID: 1, AvailableQty: 7}
	mockCache.On("SetAvailability", mock.Anything, state).Return(assert.AnError)

	err := warmer.HandleState(context.Background(), state)

	assert.Error(t, err)
}
