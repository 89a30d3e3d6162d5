package wallet

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"consult-platform/internal/auth"
	"consult-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

const (
	headerEstimatedCostMinor = "X-Estimated-Cost-Minor"
	headerCurrency           = "X-Currency"
)

// BalanceService is the minimal wallet surface needed by middleware.
type BalanceService interface {
	GetBalance(ctx context.Context, ownerID string) (Balance, error)
}

// RequireSufficientBalance blocks the request if the caller's available
// balance is below the estimated cost. Used on call creation to reject calls
// the user clearly cannot afford; the per-second metering remains the real
// enforcement.
//
// - Reads estimated charge from header: X-Estimated-Cost-Minor (int64)
// - Reads currency from header: X-Currency
// - Uses auth context for the owner and role
// - admins bypass
func RequireSufficientBalance(svc BalanceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if rbac.IsAdmin(role) {
			c.Next()
			return
		}

		ownerID, err := auth.UserID(c.Request.Context())
		if err != nil || ownerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		estMinorStr := strings.TrimSpace(c.GetHeader(headerEstimatedCostMinor))
		if estMinorStr == "" {
			// No estimate supplied: let the metering gate decide.
			c.Next()
			return
		}
		estMinor, err := strconv.ParseInt(estMinorStr, 10, 64)
		if err != nil || estMinor <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "estimated cost invalid"})
			return
		}

		currency := strings.TrimSpace(c.GetHeader(headerCurrency))
		if currency == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "currency required"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), ownerID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal.Currency != currency {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "currency mismatch"})
			return
		}
		if bal.BalanceMinor < estMinor {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
			return
		}

		c.Next()
	}
}
