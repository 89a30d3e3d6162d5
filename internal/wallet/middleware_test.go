package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"consult-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func gateRequest(t *testing.T, m *Memory, role, est, currency string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/calls", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u1", role))
		c.Next()
	}, RequireSufficientBalance(m), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls", nil)
	if est != "" {
		req.Header.Set(headerEstimatedCostMinor, est)
	}
	if currency != "" {
		req.Header.Set(headerCurrency, currency)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireSufficientBalance(t *testing.T) {
	m := NewMemory()
	if _, err := m.EnsureWallet(context.Background(), "u1", OwnerTypeUser, "INR"); err != nil {
		t.Fatalf("EnsureWallet: %v", err)
	}
	if _, _, err := m.Credit(context.Background(), "u1", CreditRequest{
		AmountMinor: 500, Currency: "INR", IdempotencyKey: "seed",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if code := gateRequest(t, m, "user", "400", "INR"); code != http.StatusCreated {
		t.Fatalf("covered estimate: expected 201, got %d", code)
	}
	if code := gateRequest(t, m, "user", "600", "INR"); code != http.StatusPaymentRequired {
		t.Fatalf("uncovered estimate: expected 402, got %d", code)
	}
	if code := gateRequest(t, m, "user", "400", "USD"); code != http.StatusBadRequest {
		t.Fatalf("currency mismatch: expected 400, got %d", code)
	}
	if code := gateRequest(t, m, "user", "nope", "INR"); code != http.StatusBadRequest {
		t.Fatalf("bad estimate: expected 400, got %d", code)
	}
	// No estimate header: the gate defers to metering.
	if code := gateRequest(t, m, "user", "", ""); code != http.StatusCreated {
		t.Fatalf("no estimate: expected 201, got %d", code)
	}
	// Admins bypass.
	if code := gateRequest(t, m, "admin", "999999", "INR"); code != http.StatusCreated {
		t.Fatalf("admin bypass: expected 201, got %d", code)
	}
}
