package models

import (
	"fmt"
	"strings"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidField      ErrorCode = "INVALID_FIELD"
	ErrorCodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeTargetNotFound    ErrorCode = "TARGET_NOT_FOUND"
	ErrorCodeTargetInactive    ErrorCode = "TARGET_INACTIVE"
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeDatabaseError     ErrorCode = "DATABASE_ERROR"
	ErrorCodeCacheError        ErrorCode = "CACHE_ERROR"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeInternalError   = "internal-error"
)

// ValidationError rejects a request before any lock is taken.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// InsufficientTarget describes one target that could not cover its requested
// quantity.
type InsufficientTarget struct {
	Target    Target `json:"target"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError reports every short target of an aborted reserve
// batch. The whole batch was rolled back; no partial holds exist.
type InsufficientStockError struct {
	Targets []InsufficientTarget `json:"targets"`
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Targets))
	for _, t := range e.Targets {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", t.Target.Key(), t.Requested, t.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// NotFoundError reports a missing or inactive target. Both map to the same
// 404 response; the code distinguishes them for callers.
type NotFoundError struct {
	Resource string    `json:"resource"`
	ID       string    `json:"id"`
	Code     ErrorCode `json:"code"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id, Code: ErrorCodeTargetNotFound}
}

// NewTargetInactiveError reports a target that exists but is disabled for
// sale. Inactive targets behave as missing for every operation.
func NewTargetInactiveError(id string) *NotFoundError {
	return &NotFoundError{Resource: "stock item", ID: id, Code: ErrorCodeTargetInactive}
}

// SystemError wraps store, cache or broker failures. The caller owns retry
// policy; the engine never retries.
type SystemError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Component string    `json:"component"`
}

func (e *SystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s in %s: %s (caused by: %v)", e.Code, e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s in %s: %s", e.Code, e.Component, e.Message)
}

func (e *SystemError) Unwrap() error {
	return e.Cause
}

func NewSystemError(code ErrorCode, component, message string, cause error) *SystemError {
	return &SystemError{Code: code, Message: message, Cause: cause, Component: component}
}

// ProblemDetails is the RFC-7807 style error body returned by every endpoint.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
	Code   string `json:"code,omitempty"`
	Errors any    `json:"errors,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a validation error problem
func NewValidationProblem(field, message string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: message,
		Field:  field,
		Code:   string(code),
	}
}

// NewMultiValidationProblem creates a problem carrying several field violations
func NewMultiValidationProblem(violations []ValidationError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: "One or more fields failed validation",
		Code:   string(ErrorCodeValidationError),
		Errors: violations,
	}
}

// NewBusinessLogicProblem creates a business logic error problem
func NewBusinessLogicProblem(status int, title, detail string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusinessError,
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   string(code),
	}
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: 404,
		Detail: resource + " not found",
	}
}

func problemType(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409, 422:
		return ProblemTypeBusinessError
	default:
		return ProblemTypeInternalError
	}
}
