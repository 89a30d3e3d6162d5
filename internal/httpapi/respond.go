package httpapi

import (
	"errors"
	"net/http"

	"consult-platform/internal/billing"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Response envelope. Every endpoint returns {success, data} on the happy
// path and {success:false, error:{code,message}} on failure.

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   errorBody{Code: code, Message: err.Error()},
	})
}

func respondErrorMsg(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   errorBody{Code: code, Message: message},
	})
}

// classify maps the billing error taxonomy (and its wallet/reporting
// equivalents) onto HTTP statuses. Conflicts are 409: callers treat a
// duplicate create or a lost start race as idempotent success.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrValidation),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, billing.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrAuthorization):
		return http.StatusForbidden, "authorization_error"
	case errors.Is(err, billing.ErrInsufficientBalance),
		errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, billing.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, billing.ErrTransient):
		return http.StatusServiceUnavailable, "transient_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
