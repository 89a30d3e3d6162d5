package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/availability"
	"consult-platform/internal/billing"
	"consult-platform/internal/rbac"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletAPI is the wallet surface the handlers need. *wallet.Service
// implements it; tests back it with the in-memory poster.
type WalletAPI interface {
	GetBalance(ctx context.Context, ownerID string) (wallet.Balance, error)
	Statement(ctx context.Context, ownerID string, limit int) ([]wallet.WalletLedger, error)
	AdminManualCredit(ctx context.Context, ownerID, adminUserID, adminRole string, req wallet.AdminCreditRequest) (wallet.AdminWalletAction, wallet.WalletLedger, wallet.Balance, error)
}

// AuditLog is the subset of the audit service the handlers write to.
type AuditLog interface {
	LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, walletID, metadata string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth         *auth.Manager
	Engine       *billing.Engine
	Wallet       WalletAPI
	Reports      *reporting.Service
	Availability *availability.Service
	Audit        AuditLog
}

// callerCanActFor enforces ownership: a caller may only act on their own
// resources unless they hold a support or admin role.
func callerCanActFor(c *gin.Context, ownerID string) error {
	role, _ := auth.Role(c.Request.Context())
	if rbac.IsAdmin(role) || role == rbac.RoleSupport {
		return nil
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid != ownerID {
		return fmt.Errorf("%w: caller cannot act for %q", billing.ErrAuthorization, ownerID)
	}
	return nil
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		respondErrorMsg(c, http.StatusInternalServerError, "internal_error", "auth not configured")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	if req.UserID == "" || req.Role == "" {
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "user_id and role required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		respondErrorMsg(c, http.StatusInternalServerError, "internal_error", "token issuance failed")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type createCallRequest struct {
	CallID       string `json:"call_id,omitempty"`
	UserID       string `json:"user_id"`
	AstrologerID string `json:"astrologer_id"`
	CallType     string `json:"call_type"`
}

// CreateCall opens a call record. The astrologer's busy marker decides the
// initial status: queued when they are free, pending when another call
// already holds them.
func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	if err := callerCanActFor(c, req.UserID); err != nil {
		respondError(c, err)
		return
	}

	// Assign the id here so the busy marker and the record agree on it.
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}

	create := billing.CreateCallRequest{
		CallID:       req.CallID,
		UserID:       req.UserID,
		AstrologerID: req.AstrologerID,
		CallType:     billing.CallType(req.CallType),
		Status:       billing.StatusQueued,
	}

	reserved := false
	if h.Availability != nil && req.AstrologerID != "" {
		ok, err := h.Availability.Reserve(c.Request.Context(), req.AstrologerID, req.CallID)
		if err != nil {
			logger.FromGin(c).Warn("busy marker unavailable", "astrologer_id", req.AstrologerID, "err", err)
		} else if !ok {
			create.Status = billing.StatusPending
		} else {
			reserved = true
		}
	}

	rec, err := h.Engine.CreateCall(c.Request.Context(), create)
	if err != nil {
		if reserved {
			_ = h.Availability.ReleaseBusy(c.Request.Context(), req.AstrologerID, req.CallID)
		}
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, rec)
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Engine.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := callerCanActFor(c, rec.UserID); err != nil {
		if err2 := callerCanActFor(c, rec.AstrologerID); err2 != nil {
			respondError(c, err)
			return
		}
	}
	respondOK(c, http.StatusOK, rec)
}

type participantRequest struct {
	Action          string `json:"action"`           // join | leave
	ParticipantType string `json:"participant_type"` // user | astrologer
}

// Participant applies a join or leave. Joins may unlock billing; a leave
// during a billed call settles it.
func (h Handlers) Participant(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	callID := c.Param("call_id")
	p := billing.ParticipantType(req.ParticipantType)
	var ev billing.Event
	switch req.Action {
	case "join":
		ev = billing.ParticipantJoined{Call: callID, Participant: p}
	case "leave":
		ev = billing.ParticipantLeft{Call: callID, Participant: p}
	default:
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "action must be join or leave")
		return
	}

	res, err := h.Engine.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

type mediaRequest struct {
	TrackType       string `json:"track_type"` // audio | video
	Event           string `json:"event"`      // published | unpublished
	ParticipantType string `json:"participant_type,omitempty"`
}

// Media records a track publication. Audio publication is the last billing
// precondition; everything else is a no-op acknowledgment.
func (h Handlers) Media(c *gin.Context) {
	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	callID := c.Param("call_id")
	p := billing.ParticipantType(req.ParticipantType)
	var ev billing.Event
	switch req.Event {
	case "published":
		ev = billing.TrackPublished{Call: callID, Participant: p, TrackKind: req.TrackType}
	case "unpublished":
		ev = billing.TrackUnpublished{Call: callID, Participant: p, TrackKind: req.TrackType}
	default:
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "event must be published or unpublished")
		return
	}

	res, err := h.Engine.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

// BillingCheck is the idempotent recovery poll: it re-evaluates the start
// predicate and starts billing if every precondition now holds. A lost race
// or an already-running ticker both report started=true.
func (h Handlers) BillingCheck(c *gin.Context) {
	callID := c.Param("call_id")

	elig, err := h.Engine.CanStartBilling(c.Request.Context(), callID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !elig.CanStart {
		if elig.Reason == billing.BlockAlreadyStarted {
			respondOK(c, http.StatusOK, gin.H{"started": true, "already_started": true})
			return
		}
		respondOK(c, http.StatusOK, gin.H{"started": false, "block_reason": elig.Reason})
		return
	}

	res, err := h.Engine.StartBilling(c.Request.Context(), callID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"started": true, "already_started": res.AlreadyStarted, "rate": res.Rate})
}

type finalizeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h Handlers) BillingFinalize(c *gin.Context) {
	var req finalizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErrorMsg(c, http.StatusBadRequest, "validation_error", "invalid json")
			return
		}
	}

	res, err := h.Engine.FinalizeBilling(c.Request.Context(), c.Param("call_id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

func (h Handlers) Diagnose(c *gin.Context) {
	diag, err := h.Engine.Diagnose(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, diag)
}

// --- Wallet ---

func (h Handlers) GetWalletBalance(c *gin.Context) {
	ownerID := c.Param("owner_id")
	if err := callerCanActFor(c, ownerID); err != nil {
		respondError(c, err)
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, bal)
}

func (h Handlers) GetWalletLedger(c *gin.Context) {
	ownerID := c.Param("owner_id")
	if err := callerCanActFor(c, ownerID); err != nil {
		respondError(c, err)
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondErrorMsg(c, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.Wallet.Statement(c.Request.Context(), ownerID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, entries)
}

// --- Reports ---

func parseRange(c *gin.Context) (reporting.TimeRange, error) {
	var r reporting.TimeRange
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		return r, reporting.ErrInvalidRequest
	}
	var err error
	if r.From, err = time.Parse(time.RFC3339, from); err != nil {
		return r, reporting.ErrInvalidRequest
	}
	if r.To, err = time.Parse(time.RFC3339, to); err != nil {
		return r, reporting.ErrInvalidRequest
	}
	return r, nil
}

func (h Handlers) UserCallsReport(c *gin.Context) {
	userID := c.Param("user_id")
	if err := callerCanActFor(c, userID); err != nil {
		respondError(c, err)
		return
	}
	rng, err := parseRange(c)
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID:   userID,
		Range:    rng,
		CallType: c.Query("call_type"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, out)
}

func (h Handlers) AstrologerEarningsReport(c *gin.Context) {
	astrologerID := c.Param("astrologer_id")
	if err := callerCanActFor(c, astrologerID); err != nil {
		respondError(c, err)
		return
	}
	rng, err := parseRange(c)
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := h.Reports.EarningsSummary(c.Request.Context(), reporting.EarningsSummaryRequest{
		AstrologerID: astrologerID,
		Range:        rng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, out)
}

// --- Admin ---

type adminManualCreditRequest struct {
	OwnerID        string `json:"owner_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

// AdminManualCredit performs an admin-only wallet credit. Every invocation
// writes an audit event alongside the ledger entry.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	adminUserID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminManualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	if req.OwnerID == "" {
		respondErrorMsg(c, http.StatusBadRequest, "validation_error", "owner_id required")
		return
	}

	action, entry, bal, err := h.Wallet.AdminManualCredit(c.Request.Context(), req.OwnerID, adminUserID, adminRole, wallet.AdminCreditRequest{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogAdminAction(c.Request.Context(), adminUserID, adminRole, c.ClientIP(), "manual wallet credit", action.WalletID, req.Reason); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	respondOK(c, http.StatusOK, gin.H{"action": action, "entry": entry, "balance": bal})
}

// AdminSweepCalls cancels calls that never connected within the pending
// timeout. Normally the background loop does this; the endpoint exists for
// support runbooks.
func (h Handlers) AdminSweepCalls(c *gin.Context) {
	n, err := h.Engine.SweepStaleCalls(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"swept": n})
}
