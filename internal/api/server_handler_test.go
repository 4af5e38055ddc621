package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"reservation-engine/internal/models"
)

// MockEngine implements interfaces.ReservationEngine for testing
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Reserve(ctx context.Context, orderRef int64, req *models.ReserveRequest) (*models.ReserveResponse, error) {
	args := m.Called(ctx, orderRef, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReserveResponse), args.Error(1)
}

func (m *MockEngine) Commit(ctx context.Context, orderRef int64) (*models.CommitResponse, error) {
	args := m.Called(ctx, orderRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CommitResponse), args.Error(1)
}

func (m *MockEngine) Release(ctx context.Context, orderRef int64) (*models.ReleaseResponse, error) {
	args := m.Called(ctx, orderRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReleaseResponse), args.Error(1)
}

func (m *MockEngine) SweepExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) GetAvailability(ctx context.Context, target models.Target) (*models.AvailabilityResponse, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AvailabilityResponse), args.Error(1)
}

func (m *MockEngine) GetOrderReservations(ctx context.Context, orderRef int64) ([]models.Reservation, error) {
	args := m.Called(ctx, orderRef)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *MockEngine) GetLedger(ctx context.Context, target models.Target, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, target, limit)
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

func (m *MockEngine) AdjustStock(ctx context.Context, target models.Target, delta int, reason string) (*models.StockItem, error) {
	args := m.Called(ctx, target, delta, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockItem), args.Error(1)
}

func variant(id int64) *int64 {
	return &id
}

func performRequest(t *testing.T, engine *MockEngine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	router := NewServerHandler(engine).SetupRoutes()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestReserveEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("Reserve", mock.Anything, int64(42), mock.MatchedBy(func(req *models.ReserveRequest) bool {
		return len(req.Items) == 1 && req.Items[0].ProductID == 1 && req.Items[0].Qty == 3
	})).Return(&models.ReserveResponse{
		OrderRef:  42,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}, nil)

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/42/reserve",
		`{"items":[{"product_id":1,"qty":3}]}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp models.ReserveResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.OrderRef)
	mockEngine.AssertExpectations(t)
}

func TestReserveEndpoint_InsufficientStock(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("Reserve", mock.Anything, int64(42), mock.Anything).
		Return(nil, &models.InsufficientStockError{Targets: []models.InsufficientTarget{
			{Target: models.Target{ProductID: 1}, Requested: 5, Available: 2},
		}})

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/42/reserve",
		`{"items":[{"product_id":1,"qty":5}]}`)

	assert.Equal(t, http.StatusConflict, w.Code)

	var problem models.ProblemDetails
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "Insufficient Stock", problem.Title)
	assert.Equal(t, string(models.ErrorCodeInsufficientStock), problem.Code)
	assert.Contains(t, problem.Detail, "requested 5 available 2")
}

func TestReserveEndpoint_BadOrderRef(t *testing.T) {
	mockEngine := new(MockEngine)

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/abc/reserve",
		`{"items":[{"product_id":1,"qty":3}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockEngine.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything)
}

func TestReserveEndpoint_MalformedBody(t *testing.T) {
	mockEngine := new(MockEngine)

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/42/reserve", `{"items":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockEngine.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything)
}

func TestCommitEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("Commit", mock.Anything, int64(42)).
		Return(&models.CommitResponse{OrderRef: 42, Committed: 2}, nil)

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/42/commit", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.CommitResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Committed)
}

func TestReleaseEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("Release", mock.Anything, int64(42)).
		Return(&models.ReleaseResponse{OrderRef: 42, Released: 1}, nil)

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/42/release", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ReleaseResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Released)
}

func TestAvailabilityEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	target := models.Target{ProductID: 1, VariantID: variant(7)}
	mockEngine.On("GetAvailability", mock.Anything, target).
		Return(&models.AvailabilityResponse{
			ProductID:      1,
			VariantID:      variant(7),
			OnHandQty:      10,
			ActiveReserved: 4,
			AvailableQty:   6,
			Tracked:        true,
		}, nil)

	w := performRequest(t, mockEngine, http.MethodGet, "/api/v1/stock/1/availability?variant_id=7", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.AvailabilityResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.AvailableQty)
}

func TestAvailabilityEndpoint_NotFound(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("GetAvailability", mock.Anything, models.Target{ProductID: 404}).
		Return(nil, models.NewNotFoundError("stock item", "404"))

	w := performRequest(t, mockEngine, http.MethodGet, "/api/v1/stock/404/availability", "")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var problem models.ProblemDetails
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeTargetNotFound), problem.Code)
}

func TestReserveEndpoint_InactiveTarget(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("Reserve", mock.Anything, int64(42), mock.Anything).
		Return(nil, models.NewTargetInactiveError("9"))

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/42/reserve",
		`{"items":[{"product_id":9,"qty":1}]}`)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var problem models.ProblemDetails
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeTargetInactive), problem.Code)
}

func TestCommitEndpoint_SystemError(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("Commit", mock.Anything, int64(42)).
		Return(nil, models.NewSystemError(models.ErrorCodeDatabaseError, "postgres", "failed to commit transaction", assert.AnError))

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/orders/42/commit", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var problem models.ProblemDetails
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, string(models.ErrorCodeDatabaseError), problem.Code)

	// Internals never leak into the response body
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestAvailabilityEndpoint_BadVariant(t *testing.T) {
	mockEngine := new(MockEngine)

	w := performRequest(t, mockEngine, http.MethodGet, "/api/v1/stock/1/availability?variant_id=zero", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockEngine.AssertNotCalled(t, "GetAvailability", mock.Anything, mock.Anything)
}

func TestLedgerEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	target := models.Target{ProductID: 1}
	mockEngine.On("GetLedger", mock.Anything, target, 10).
		Return([]models.LedgerEntry{
			{ProductID: 1, ChangeType: models.LedgerChangeCommitted, QtyBefore: 10, QtyDelta: -3, QtyAfter: 7},
		}, nil)

	w := performRequest(t, mockEngine, http.MethodGet, "/api/v1/stock/1/ledger?limit=10", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var entries []models.LedgerEntry
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
	assert.Equal(t, models.LedgerChangeCommitted, entries[0].ChangeType)
}

func TestLedgerEndpoint_CapsLimit(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("GetLedger", mock.Anything, models.Target{ProductID: 1}, 500).
		Return([]models.LedgerEntry{}, nil)

	w := performRequest(t, mockEngine, http.MethodGet, "/api/v1/stock/1/ledger?limit=9000", "")

	assert.Equal(t, http.StatusOK, w.Code)
	mockEngine.AssertExpectations(t)
}

func TestAdjustEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	target := models.Target{ProductID: 1}
	mockEngine.On("AdjustStock", mock.Anything, target, 5, "cycle count correction").
		Return(&models.StockItem{ProductID: 1, OnHandQty: 15, Tracked: true, Active: true}, nil)

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/stock/1/adjust",
		`{"delta":5,"reason":"cycle count correction"}`)

	assert.Equal(t, http.StatusOK, w.Code)

	var item models.StockItem
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, 15, item.OnHandQty)
}

func TestSweepEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	mockEngine.On("SweepExpired", mock.Anything).Return(3, nil)

	w := performRequest(t, mockEngine, http.MethodPost, "/api/v1/sweep", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.SweepResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Expired)
}

func TestOrderReservationsEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	orderRef := int64(42)
	mockEngine.On("GetOrderReservations", mock.Anything, orderRef).
		Return([]models.Reservation{
			{ProductID: 1, Qty: 3, Status: models.ReservationStatusReserved, OrderRef: &orderRef},
		}, nil)

	w := performRequest(t, mockEngine, http.MethodGet, "/api/v1/orders/42/reservations", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp []models.ReservationResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 1)
	assert.Equal(t, models.ReservationStatusReserved, resp[0].Status)
}

func TestHealthEndpoint(t *testing.T) {
	mockEngine := new(MockEngine)

	w := performRequest(t, mockEngine, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRequestIDPropagation(t *testing.T) {
	mockEngine := new(MockEngine)
	mockEngine.On("SweepExpired", mock.Anything).Return(0, nil)

	router := NewServerHandler(mockEngine).SetupRoutes()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sweep", strings.NewReader(""))
	req.Header.Set("X-Request-ID", "req-123")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
