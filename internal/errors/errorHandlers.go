// File: chatbase_go_backend/internal/errors/errors.go

package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "VALIDATION"
	ErrorTypeAuthentication      ErrorType = "AUTHENTICATION"
	ErrorTypeAuthorization       ErrorType = "AUTHORIZATION"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeRateLimit           ErrorType = "RATE_LIMIT"
	ErrorTypeCredit              ErrorType = "CREDIT"
	ErrorTypeExternalAPI         ErrorType = "EXTERNAL_API"
	ErrorTypeDatabase            ErrorType = "DATABASE"
	ErrorTypeInternalServerError ErrorType = "INTERNAL_SERVER_ERROR"
)

// CustomError represents a custom error with associated HTTP status code and
// type. The type is fixed at the throw site; callers must never infer an
// error kind from message text.
type CustomError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *CustomError) Error() string {
	return e.Message
}

// Retriable reports whether the caller may retry the failed action.
func (e *CustomError) Retriable() bool {
	return e.Type == ErrorTypeExternalAPI || e.Type == ErrorTypeRateLimit
}

// newError creates a new CustomError
func newError(errType ErrorType, message string, statusCode int, internal error) *CustomError {
	return &CustomError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// NewValidationError creates a new bad request error
func NewValidationError(message string) *CustomError {
	return newError(ErrorTypeValidation, message, http.StatusBadRequest, nil)
}

// NewAuthenticationError creates a new unauthorized error
func NewAuthenticationError(message string) *CustomError {
	if message == "" {
		message = "Unauthorized access"
	}
	return newError(ErrorTypeAuthentication, message, http.StatusUnauthorized, nil)
}

// NewAuthorizationError creates a new forbidden error
func NewAuthorizationError(message string) *CustomError {
	if message == "" {
		message = "Access forbidden"
	}
	return newError(ErrorTypeAuthorization, message, http.StatusForbidden, nil)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *CustomError {
	return newError(ErrorTypeNotFound, message, http.StatusNotFound, nil)
}

// NewRateLimitError creates a new too-many-requests error
func NewRateLimitError(message string) *CustomError {
	return newError(ErrorTypeRateLimit, message, http.StatusTooManyRequests, nil)
}

// NewCreditError creates an insufficient-credit or blocked-account error
func NewCreditError(message string) *CustomError {
	return newError(ErrorTypeCredit, message, http.StatusPaymentRequired, nil)
}

// NewExternalAPIError wraps a failure from the external chat API
func NewExternalAPIError(message string, internal error) *CustomError {
	return newError(ErrorTypeExternalAPI, message, http.StatusBadGateway, internal)
}

// NewDatabaseError wraps a persistence failure
func NewDatabaseError(internal error) *CustomError {
	return newError(ErrorTypeDatabase, "A storage error occurred", http.StatusInternalServerError, internal)
}

// New500Error creates a new internal server error
func New500Error(internal error) *CustomError {
	return newError(ErrorTypeInternalServerError, "An unexpected error occurred", http.StatusInternalServerError, internal)
}

// HandleError handles the custom error and sends an appropriate JSON response
func HandleError(c *gin.Context, err error) {
	var customErr *CustomError
	var ok bool

	if customErr, ok = err.(*CustomError); !ok {
		customErr = New500Error(err)
	}

	// Log errors that carry an internal cause
	if customErr.Internal != nil {
		log.Error().
			Err(customErr.Internal).
			Str("type", string(customErr.Type)).
			Str("url", c.Request.URL.String()).
			Msg("Request failed")
	}

	c.JSON(customErr.StatusCode, gin.H{
		"error": gin.H{
			"type":      customErr.Type,
			"message":   customErr.Message,
			"retriable": customErr.Retriable(),
		},
	})
}
