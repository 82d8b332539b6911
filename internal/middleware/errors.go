package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the error envelope every endpoint responds with
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retry_after_ms,omitempty"`
}

// Error codes
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeInvalidVote      = "INVALID_VOTE"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTransientStore   = "TRANSIENT_STORE_FAILURE"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// RespondError aborts the request with a structured error
func RespondError(c *gin.Context, status int, code string, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": APIError{
			Code:    code,
			Message: message,
		},
	})
}

// RespondErrorWithDetails aborts the request with a structured error and details
func RespondErrorWithDetails(c *gin.Context, status int, code string, message string, details string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// RespondErrorWithRetry aborts the request with a structured error and a retry hint
func RespondErrorWithRetry(c *gin.Context, status int, code string, message string, retryAfterMs int) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": APIError{
			Code:       code,
			Message:    message,
			RetryAfter: retryAfterMs,
		},
	})
}

// BadRequest sends a 400 error
func BadRequest(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 error
func Unauthorized(c *gin.Context, message string) {
	RespondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 error
func Forbidden(c *gin.Context, message string) {
	RespondError(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound sends a 404 error. Clients treat it as "try another prompt".
func NotFound(c *gin.Context, message string) {
	RespondErrorWithRetry(c, http.StatusNotFound, ErrCodeNotFound, message, 0)
}

// InternalError sends a 500 error
func InternalError(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// TransientStoreFailure sends a 503 asking the client to retry shortly
func TransientStoreFailure(c *gin.Context) {
	RespondErrorWithRetry(c, http.StatusServiceUnavailable, ErrCodeTransientStore, "Could not reserve impressions, please retry", 250)
}
