package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/interfaces"
	"reservation-engine/internal/models"
)

// ReaderHandler serves cache-first availability reads. The reader service
// keeps its cache warm from the state topic, so most requests never touch
// the database.
type ReaderHandler struct {
	cache interfaces.CacheRepository
}

// NewReaderHandler creates a new reader API handler
func NewReaderHandler(cache interfaces.CacheRepository) *ReaderHandler {
	return &ReaderHandler{
		cache: cache,
	}
}

// SetupReaderRoutes sets up the HTTP routes for the reader service
func (h *ReaderHandler) SetupReaderRoutes() *gin.Engine {
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
		api.GET("/stock/:product_id/availability", h.getAvailability)
	}

	return r
}

// getAvailability serves an availability snapshot from cache. A cold cache
// reads as not found; the server's availability endpoint is the
// database-backed fallback.
func (h *ReaderHandler) getAvailability(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		Response.ValidationError(c, "product_id", "Product ID must be a positive integer")
		return
	}

	target := models.Target{ProductID: productID}
	if variantStr := c.Query("variant_id"); variantStr != "" {
		variantID, err := strconv.ParseInt(variantStr, 10, 64)
		if err != nil || variantID <= 0 {
			Response.ValidationError(c, "variant_id", "Variant ID must be a positive integer")
			return
		}
		target.VariantID = &variantID
	}

	state, err := h.cache.GetAvailability(c.Request.Context(), target)
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to get availability")
		Response.InternalError(c, err.Error())
		return
	}
	if state == nil {
		Response.NotFound(c, "Availability for "+target.Key())
		return
	}

	Response.Success(c, models.AvailabilityResponse{
		ProductID:      state.ProductID,
		VariantID:      state.VariantID,
		OnHandQty:      state.OnHandQty,
		ActiveReserved: state.ActiveReserved,
		AvailableQty:   state.AvailableQty,
		Tracked:        state.Tracked,
		CacheHit:       true,
		LastUpdated:    state.UpdatedAt,
	})
}

// healthCheck handles health check requests
func (h *ReaderHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "reservation-reader",
	})
}
