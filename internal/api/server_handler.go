package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/interfaces"
	"reservation-engine/internal/models"
)

// ServerHandler handles HTTP requests for the reservation lifecycle
type ServerHandler struct {
	engine interfaces.ReservationEngine
}

// NewServerHandler creates a new reservation API handler
func NewServerHandler(engine interfaces.ReservationEngine) *ServerHandler {
	return &ServerHandler{
		engine: engine,
	}
}

// SetupRoutes sets up the HTTP routes for the reservation server
func (h *ServerHandler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Middleware
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(ErrorHandlerMiddleware())
	r.Use(CORSMiddleware())

	// Health check
	r.GET("/health", h.healthCheck)

	api := r.Group("/api/v1")
	{
		// Reservation lifecycle
		api.POST("/orders/:order_ref/reserve", h.reserve)
		api.POST("/orders/:order_ref/commit", h.commit)
		api.POST("/orders/:order_ref/release", h.release)
		api.GET("/orders/:order_ref/reservations", h.orderReservations)

		// Stock queries and maintenance
		api.GET("/stock/:product_id/availability", h.availability)
		api.GET("/stock/:product_id/ledger", h.ledger)
		api.POST("/stock/:product_id/adjust", h.adjust)

		// On-demand sweep, for ops and tests; the sweeper service runs the
		// same operation on a timer.
		api.POST("/sweep", h.sweep)
	}

	return r
}

// reserve places an all-or-nothing hold for an order
func (h *ServerHandler) reserve(c *gin.Context) {
	orderRef, ok := h.orderRef(c)
	if !ok {
		return
	}

	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind reserve request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	response, err := h.engine.Reserve(c.Request.Context(), orderRef, &req)
	if err != nil {
		log.Error().Err(err).Int64("order_ref", orderRef).Msg("Failed to reserve stock")
		Response.Error(c, err)
		return
	}

	Response.Created(c, response)
}

// commit converts an order's holds into permanent deductions
func (h *ServerHandler) commit(c *gin.Context) {
	orderRef, ok := h.orderRef(c)
	if !ok {
		return
	}

	response, err := h.engine.Commit(c.Request.Context(), orderRef)
	if err != nil {
		log.Error().Err(err).Int64("order_ref", orderRef).Msg("Failed to commit reservations")
		Response.Error(c, err)
		return
	}

	Response.Success(c, response)
}

// release returns an order's holds to the pool
func (h *ServerHandler) release(c *gin.Context) {
	orderRef, ok := h.orderRef(c)
	if !ok {
		return
	}

	response, err := h.engine.Release(c.Request.Context(), orderRef)
	if err != nil {
		log.Error().Err(err).Int64("order_ref", orderRef).Msg("Failed to release reservations")
		Response.Error(c, err)
		return
	}

	Response.Success(c, response)
}

// orderReservations lists every reservation linked to an order
func (h *ServerHandler) orderReservations(c *gin.Context) {
	orderRef, ok := h.orderRef(c)
	if !ok {
		return
	}

	reservations, err := h.engine.GetOrderReservations(c.Request.Context(), orderRef)
	if err != nil {
		log.Error().Err(err).Int64("order_ref", orderRef).Msg("Failed to list order reservations")
		Response.Error(c, err)
		return
	}

	responses := make([]models.ReservationResponse, 0, len(reservations))
	for i := range reservations {
		responses = append(responses, models.NewReservationResponse(&reservations[i]))
	}

	Response.Success(c, responses)
}

// availability returns the sellable quantity for one target
func (h *ServerHandler) availability(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}

	response, err := h.engine.GetAvailability(c.Request.Context(), target)
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to get availability")
		Response.Error(c, err)
		return
	}

	Response.Success(c, response)
}

// ledger returns the newest audit entries for one target
func (h *ServerHandler) ledger(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			Response.ValidationError(c, "limit", "Limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > 500 {
		limit = 500
	}

	entries, err := h.engine.GetLedger(c.Request.Context(), target, limit)
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to list ledger entries")
		Response.Error(c, err)
		return
	}

	Response.Success(c, entries)
}

// adjust applies a manual on-hand correction
func (h *ServerHandler) adjust(c *gin.Context) {
	productID, ok := h.productID(c)
	if !ok {
		return
	}

	var req models.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind adjust request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	target := models.Target{ProductID: productID, VariantID: req.VariantID}
	item, err := h.engine.AdjustStock(c.Request.Context(), target, req.Delta, req.Reason)
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to adjust stock")
		Response.Error(c, err)
		return
	}

	Response.Success(c, item)
}

// sweep expires reservations past their deadline
func (h *ServerHandler) sweep(c *gin.Context) {
	expired, err := h.engine.SweepExpired(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep expired reservations")
		Response.Error(c, err)
		return
	}

	Response.Success(c, models.SweepResponse{Expired: expired})
}

// healthCheck handles health check requests
func (h *ServerHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "reservation-server",
	})
}

// Param parsing helpers

func (h *ServerHandler) orderRef(c *gin.Context) (int64, bool) {
	orderRef, err := strconv.ParseInt(c.Param("order_ref"), 10, 64)
	if err != nil || orderRef <= 0 {
		Response.ValidationError(c, "order_ref", "Order ref must be a positive integer")
		return 0, false
	}
	return orderRef, true
}

func (h *ServerHandler) productID(c *gin.Context) (int64, bool) {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		Response.ValidationError(c, "product_id", "Product ID must be a positive integer")
		return 0, false
	}
	return productID, true
}

func (h *ServerHandler) target(c *gin.Context) (models.Target, bool) {
	productID, ok := h.productID(c)
	if !ok {
		return models.Target{}, false
	}

	target := models.Target{ProductID: productID}
	if variantStr := c.Query("variant_id"); variantStr != "" {
		variantID, err := strconv.ParseInt(variantStr, 10, 64)
		if err != nil || variantID <= 0 {
			Response.ValidationError(c, "variant_id", "Variant ID must be a positive integer")
			return models.Target{}, false
		}
		target.VariantID = &variantID
	}

	return target, true
}
