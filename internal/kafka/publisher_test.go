package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"reservation-engine/internal/models"
)

// MockPublisher implements interfaces.MessagePublisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, event *models.StockEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishState(ctx context.Context, state *models.StockState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockOutboxStore implements OutboxStore for testing
type MockOutboxStore struct {
	mock.Mock
}

func (m *MockOutboxStore) TryAcquireOutboxLock(ctx context.Context, lockKey int64) (bool, error) {
	args := m.Called(ctx, lockKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxStore) ReleaseOutboxLock(ctx context.Context, lockKey int64) error {
	args := m.Called(ctx, lockKey)
	return args.Error(0)
}

func (m *MockOutboxStore) FetchOutboxBatch(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.OutboxEvent), args.Error(1)
}

func (m *MockOutboxStore) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockOutboxStore) IncrementPublishAttempts(ctx context.Context, id int64, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

func outboxRow(t *testing.T, id int64, eventType, key string, payload interface{}) models.OutboxEvent {
	t.Helper()

	data, err := json.Marshal(payload)
	assert.NoError(t, err)

	return models.OutboxEvent{
		ID:        id,
		EventType: eventType,
		Key:       key,
		Payload:   string(data),
		CreatedAt: time.Now(),
	}
}

func TestProcessOutboxBatch_RoutesByEventType(t *testing.T) {
	pub := new(MockPublisher)
	store := new(MockOutboxStore)

	event := &models.StockEvent{EventID: "evt-1", EventType: models.EventTypeStockReserved, ProductID: 1, Qty: 3}
	state := &models.StockState{ProductID: 1, OnHandQty: 10, ActiveReserved: 3, AvailableQty: 7, Tracked: true}

	store.On("TryAcquireOutboxLock", mock.Anything, int64(7)).Return(true, nil)
	store.On("ReleaseOutboxLock", mock.Anything, int64(7)).Return(nil)
	store.On("FetchOutboxBatch", mock.Anything, 100).Return([]models.OutboxEvent{
		outboxRow(t, 1, models.EventTypeStockReserved, "1", event),
		outboxRow(t, 2, models.EventTypeStockState, "1", state),
	}, nil)
	pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(e *models.StockEvent) bool {
		return e.EventID == "evt-1" && e.EventType == models.EventTypeStockReserved && e.Qty == 3
	})).Return(nil)
	pub.On("PublishState", mock.Anything, mock.MatchedBy(func(s *models.StockState) bool {
		return s.ProductID == 1 && s.AvailableQty == 7
	})).Return(nil)
	store.On("MarkOutboxPublished", mock.Anything, []int64{1, 2}).Return(nil)

	err := processOutboxBatch(context.Background(), pub, store, 7, 100)

	assert.NoError(t, err)
	pub.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestProcessOutboxBatch_LockHeldElsewhere(t *testing.T) {
	pub := new(MockPublisher)
	store := new(MockOutboxStore)

	store.On("TryAcquireOutboxLock", mock.Anything, int64(7)).Return(false, nil)

	err := processOutboxBatch(context.Background(), pub, store, 7, 100)

	assert.NoError(t, err)
	store.AssertNotCalled(t, "FetchOutboxBatch", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything)
}

func TestProcessOutboxBatch_FailedRowStaysUnpublished(t *testing.T) {
	pub := new(MockPublisher)
	store := new(MockOutboxStore)

	good := &models.StockEvent{EventID: "evt-1", EventType: models.EventTypeStockCommitted, ProductID: 1, Qty: 2}
	bad := &models.StockEvent{EventID: "evt-2", EventType: models.EventTypeStockReleased, ProductID: 2, Qty: 1}

	store.On("TryAcquireOutboxLock", mock.Anything, int64(7)).Return(true, nil)
	store.On("ReleaseOutboxLock", mock.Anything, int64(7)).Return(nil)
	store.On("FetchOutboxBatch", mock.Anything, 100).Return([]models.OutboxEvent{
		outboxRow(t, 1, models.EventTypeStockCommitted, "1", good),
		outboxRow(t, 2, models.EventTypeStockReleased, "2", bad),
	}, nil)
	pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(e *models.StockEvent) bool {
		return e.EventID == "evt-1"
	})).Return(nil)
	pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(e *models.StockEvent) bool {
		return e.EventID == "evt-2"
	})).Return(assert.AnError)
	store.On("IncrementPublishAttempts", mock.Anything, int64(2), mock.Anything).Return(nil)

	// Only the row that made it to the broker is marked published
	store.On("MarkOutboxPublished", mock.Anything, []int64{1}).Return(nil)

	err := processOutboxBatch(context.Background(), pub, store, 7, 100)

	assert.NoError(t, err)
	store.AssertExpectations(t)
}

func TestProcessOutboxBatch_CorruptPayload(t *testing.T) {
	pub := new(MockPublisher)
	store := new(MockOutboxStore)

	store.On("TryAcquireOutboxLock", mock.Anything, int64(7)).Return(true, nil)
	store.On("ReleaseOutboxLock", mock.Anything, int64(7)).Return(nil)
	store.On("FetchOutboxBatch", mock.Anything, 100).Return([]models.OutboxEvent{
		{ID: 9, EventType: models.EventTypeStockState, Key: "1", Payload: "{not json"},
	}, nil)
	store.On("IncrementPublishAttempts", mock.Anything, int64(9), mock.Anything).Return(nil)

	err := processOutboxBatch(context.Background(), pub, store, 7, 100)

	assert.NoError(t, err)
	pub.AssertNotCalled(t, "PublishState", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "MarkOutboxPublished", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}
