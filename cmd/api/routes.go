package main

import (
	"consult-platform/internal/httpapi"
	"consult-platform/internal/media"
	"consult-platform/internal/rbac"
	"consult-platform/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(
	r *gin.Engine,
	h httpapi.Handlers,
	webhook media.WebhookHandler,
	authMW, balanceGate gin.HandlerFunc,
	health *monitoring.HealthChecker,
	metrics *monitoring.MetricsCollector,
) {
	// public
	r.GET("/healthz", health.Handler())
	r.GET("/metrics", metrics.Handler())

	// Media-server room webhooks (bearer-token checked in the handler).
	r.POST("/webhooks/rtc", webhook.HandleRoomEvent)

	// Token issuance.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		calls := v1.Group("/calls")
		{
			calls.POST("", balanceGate, h.CreateCall)
			calls.GET("/:call_id", h.GetCall)
			calls.POST("/:call_id/participant", h.Participant)
			calls.POST("/:call_id/media", h.Media)
			calls.POST("/:call_id/billing/check", h.BillingCheck)
			calls.POST("/:call_id/billing/finalize", h.BillingFinalize)
			calls.GET("/:call_id/diagnose",
				rbac.RequireAnyRole(rbac.RoleSupport, rbac.RoleAdmin), h.Diagnose)
		}

		wallets := v1.Group("/wallets")
		{
			wallets.GET("/:owner_id/balance", h.GetWalletBalance)
			wallets.GET("/:owner_id/ledger", h.GetWalletLedger)
		}

		reports := v1.Group("/reports")
		{
			reports.GET("/user/:user_id/calls", h.UserCallsReport)
			reports.GET("/astrologer/:astrologer_id/earnings", h.AstrologerEarningsReport)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/wallets/manual-credit", h.AdminManualCredit)
			admin.POST("/calls/sweep", h.AdminSweepCalls)
		}
	}
}
