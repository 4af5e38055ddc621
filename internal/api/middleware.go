package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/models"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func ErrorHandlerMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			if requestID := getRequestID(c); requestID != "" {
				c.Header("X-Request-ID", requestID)
			}

			switch err.Type {
			case gin.ErrorTypeBind:
				handleBindError(c, err.Err)
			default:
				handleInternalError(c, err.Err)
			}
		}
	})
}

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ResponseHelpers provides methods for REST-native responses
type ResponseHelpers struct{}

// Success sends the resource directly (no wrapper)
func (h *ResponseHelpers) Success(c *gin.Context, resource interface{}) {
	c.JSON(200, resource)
}

// Created sends a 201 created response with the created resource
func (h *ResponseHelpers) Created(c *gin.Context, resource interface{}) {
	c.JSON(201, resource)
}

func (h *ResponseHelpers) ValidationError(c *gin.Context, field, message string) {
	problem := models.NewValidationProblem(field, message, models.ErrorCodeInvalidField)
	h.setRequestIDHeader(c)
	c.JSON(400, problem)
}

// BusinessError sends a business logic error (409 or 422)
func (h *ResponseHelpers) BusinessError(c *gin.Context, status int, title, detail string, code models.ErrorCode) {
	problem := models.NewBusinessLogicProblem(status, title, detail, code)
	h.setRequestIDHeader(c)
	c.JSON(status, problem)
}

// NotFound sends a 404 not found response
func (h *ResponseHelpers) NotFound(c *gin.Context, resource string) {
	problem := models.NewNotFoundProblem(resource)
	h.setRequestIDHeader(c)
	c.JSON(404, problem)
}

// InternalError sends a 500 internal server error response
func (h *ResponseHelpers) InternalError(c *gin.Context, detail string) {
	problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")
	problem.Code = string(models.ErrorCodeInternalError)
	h.setRequestIDHeader(c)

	// Log the error for debugging but don't expose internals
	log.Error().
		Str("request_id", getRequestID(c)).
		Str("detail", detail).
		Msg("Internal server error")

	c.JSON(500, problem)
}

// Error maps a typed engine error to its problem response.
func (h *ResponseHelpers) Error(c *gin.Context, err error) {
	h.setRequestIDHeader(c)

	var validationErr *models.ValidationError
	var insufficientErr *models.InsufficientStockError
	var notFoundErr *models.NotFoundError
	var systemErr *models.SystemError

	switch {
	case errors.As(err, &validationErr):
		h.ValidationError(c, validationErr.Field, validationErr.Message)
	case errors.As(err, &insufficientErr):
		problem := models.NewBusinessLogicProblem(409, "Insufficient Stock", insufficientErr.Error(), models.ErrorCodeInsufficientStock)
		problem.Errors = insufficientErr.Targets
		c.JSON(409, problem)
	case errors.As(err, &notFoundErr):
		problem := models.NewNotFoundProblem(notFoundErr.Resource)
		problem.Code = string(notFoundErr.Code)
		c.JSON(404, problem)
	case errors.As(err, &systemErr):
		log.Error().
			Str("request_id", getRequestID(c)).
			Str("component", systemErr.Component).
			Str("code", string(systemErr.Code)).
			Err(systemErr.Cause).
			Msg("System error")
		problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")
		problem.Code = string(systemErr.Code)
		c.JSON(500, problem)
	default:
		h.InternalError(c, err.Error())
	}
}

// Helper functions

func (h *ResponseHelpers) setRequestIDHeader(c *gin.Context) {
	if requestID := getRequestID(c); requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		return requestID.(string)
	}
	return ""
}

func handleBindError(c *gin.Context, err error) {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		violations := make([]models.ValidationError, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			violations = append(violations, models.ValidationError{
				Field:   strings.ToLower(validationError.Field()),
				Message: getValidationMessage(validationError),
			})
		}

		problem := models.NewMultiValidationProblem(violations)
		c.JSON(400, problem)
		return
	}

	problem := models.NewProblemDetails(400, "Bad Request", err.Error())
	c.JSON(400, problem)
}

func handleInternalError(c *gin.Context, err error) {
	problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")
	problem.Code = string(models.ErrorCodeInternalError)

	log.Error().
		Str("request_id", getRequestID(c)).
		Err(err).
		Msg("Internal server error")

	c.JSON(500, problem)
}

func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too small"
	case "max":
		return "Value is too large"
	default:
		return "Invalid value"
	}
}

// Create a global instance for easy access
var Response = &ResponseHelpers{}
