package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger moves prepaid money. Implementations must return
// ErrInsufficientBalance when the payer cannot cover the amount and
// ErrTransient for retryable infrastructure failures; every posting must be
// idempotent on the (callID, second) pair so a retried tick never double
// charges.
type Ledger interface {
	// Balance returns the owner's current balance in minor units.
	Balance(ctx context.Context, ownerID string) (int64, error)

	// DebitTick charges the user for one metered second of the call.
	DebitTick(ctx context.Context, userID, callID string, amountMinor int64, currency string, second int) error

	// CreditTick pays the astrologer their share for one metered second.
	CreditTick(ctx context.Context, astrologerID, callID string, amountMinor int64, currency string, second int) error
}

// RateResolver produces the rate card for an astrologer and call type.
type RateResolver interface {
	ResolveRate(ctx context.Context, astrologerID string, callType CallType) (RateCard, error)
}

// Presence tracks whether an astrologer is occupied by a live call.
// Best effort: billing correctness never depends on it.
type Presence interface {
	MarkBusy(ctx context.Context, astrologerID, callID string) error
	ReleaseBusy(ctx context.Context, astrologerID, callID string) error
}

// Metrics receives billing lifecycle counters. Implementations must be
// non-blocking.
type Metrics interface {
	BillingStarted(callType string)
	Tick(outcome string)
	BillingFinalized(status, reason string, derived bool, durationSeconds int, amountMinor int64)
}

// Tick outcome labels.
const (
	TickOutcomeCharged      = "charged"
	TickOutcomeInsufficient = "insufficient_balance"
	TickOutcomeTransient    = "transient_error"
)

// Config tunes the engine. Zero values get safe defaults.
type Config struct {
	// TickInterval is the metering cadence. Default 1s; tests shrink it.
	TickInterval time.Duration

	// ProviderSharePercent is the astrologer's cut of every charged second,
	// 0..100. Default 100.
	ProviderSharePercent int

	// MinBalanceMinutes, when positive, requires the user's balance to cover
	// that many minutes at the resolved rate before billing starts. 0
	// disables the gate.
	MinBalanceMinutes int

	// PendingTimeout is how long a call may sit before connected until the
	// sweep cancels it. Default 2m.
	PendingTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.TickInterval <= 0 {
		out.TickInterval = time.Second
	}
	if out.ProviderSharePercent <= 0 || out.ProviderSharePercent > 100 {
		out.ProviderSharePercent = 100
	}
	if out.PendingTimeout <= 0 {
		out.PendingTimeout = 2 * time.Minute
	}
	return out
}

// Engine owns the call state machine and the per-second metering loop.
// One instance per process; tickers are in-process goroutines registered by
// call id, while all durable state lives in the CallStore and Ledger.
type Engine struct {
	store    CallStore
	ledger   Ledger
	rates    RateResolver
	presence Presence
	metrics  Metrics
	log      *slog.Logger
	cfg      Config

	// clock is swapped in tests.
	clock func() time.Time

	mu      sync.Mutex
	tickers map[string]*ticker
}

func NewEngine(store CallStore, ledger Ledger, rates RateResolver, presence Presence, metrics Metrics, log *slog.Logger, cfg Config) *Engine {
	if presence == nil {
		presence = noopPresence{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    store,
		ledger:   ledger,
		rates:    rates,
		presence: presence,
		metrics:  metrics,
		log:      log,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		tickers:  make(map[string]*ticker),
	}
}

type noopPresence struct{}

func (noopPresence) MarkBusy(context.Context, string, string) error    { return nil }
func (noopPresence) ReleaseBusy(context.Context, string, string) error { return nil }

type noopMetrics struct{}

func (noopMetrics) BillingStarted(string)                             {}
func (noopMetrics) Tick(string)                                       {}
func (noopMetrics) BillingFinalized(string, string, bool, int, int64) {}

// CreateCallRequest carries the fields to open a new call record.
// CallID is optional; a UUID is assigned when empty.
type CreateCallRequest struct {
	CallID       string     `json:"call_id"`
	UserID       string     `json:"user_id"`
	AstrologerID string     `json:"astrologer_id"`
	CallType     CallType   `json:"call_type"`
	Status       CallStatus `json:"status"`
}

// CreateCall opens a new record in a pre-connected status.
func (e *Engine) CreateCall(ctx context.Context, req CreateCallRequest) (CallRecord, error) {
	if req.UserID == "" || req.AstrologerID == "" {
		return CallRecord{}, fmt.Errorf("%w: user_id and astrologer_id are required", ErrValidation)
	}
	if !ValidCallType(req.CallType) {
		return CallRecord{}, fmt.Errorf("%w: call_type must be voice or video", ErrValidation)
	}
	status := req.Status
	if status == "" {
		status = StatusCreated
	}
	if !canConnect(status) {
		return CallRecord{}, fmt.Errorf("%w: initial status %q not allowed", ErrValidation, status)
	}
	callID := req.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	now := e.clock()
	rec := CallRecord{
		CallID:       callID,
		UserID:       req.UserID,
		AstrologerID: req.AstrologerID,
		CallType:     req.CallType,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return CallRecord{}, err
	}
	e.log.InfoContext(ctx, "call created",
		"call_id", callID, "user_id", req.UserID, "astrologer_id", req.AstrologerID,
		"call_type", req.CallType, "status", status)
	return rec, nil
}

// GetCall returns the current durable record.
func (e *Engine) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	if callID == "" {
		return CallRecord{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}
	return e.store.Get(ctx, callID)
}

// MarkParticipantJoined records a join. When it completes the pair the call
// advances to connected, and the caller is told to re-evaluate billing
// eligibility; the audio event may land in either order relative to this one.
func (e *Engine) MarkParticipantJoined(ctx context.Context, callID string, p ParticipantType) (JoinResult, error) {
	if !ValidParticipant(p) {
		return JoinResult{}, fmt.Errorf("%w: unknown participant type %q", ErrValidation, p)
	}
	rec, err := e.store.MarkJoined(ctx, callID, p, e.clock())
	if err != nil {
		return JoinResult{}, err
	}
	both := rec.UserJoined && rec.AstrologerJoined
	e.log.InfoContext(ctx, "participant joined",
		"call_id", callID, "participant", p, "both_joined", both, "status", rec.Status)
	return JoinResult{
		BothJoined:         both,
		Status:             rec.Status,
		ShouldCheckBilling: both,
	}, nil
}

// MarkParticipantLeft records a leave. If billing is running the caller must
// finalize; if the call never connected it is cancelled here.
func (e *Engine) MarkParticipantLeft(ctx context.Context, callID string, p ParticipantType) (LeaveResult, error) {
	if !ValidParticipant(p) {
		return LeaveResult{}, fmt.Errorf("%w: unknown participant type %q", ErrValidation, p)
	}
	rec, err := e.store.MarkLeft(ctx, callID, p, e.clock())
	if err != nil {
		return LeaveResult{}, err
	}
	e.log.InfoContext(ctx, "participant left",
		"call_id", callID, "participant", p, "status", rec.Status)
	return LeaveResult{
		Status:         rec.Status,
		ShouldFinalize: rec.BillingStarted && !rec.BillingFinalized,
	}, nil
}

// MarkAudioTrackPublished records the first audio track. Audio from either
// party satisfies the predicate, and the flag never regresses; video tracks
// are ignored by the caller.
func (e *Engine) MarkAudioTrackPublished(ctx context.Context, callID string) (Eligibility, error) {
	rec, err := e.store.MarkAudioPublished(ctx, callID, e.clock())
	if err != nil {
		return Eligibility{}, err
	}
	can, reason := evaluateStart(rec)
	return Eligibility{CanStart: can, Reason: reason, Call: rec}, nil
}

// CanStartBilling evaluates the start predicate against the durable record.
func (e *Engine) CanStartBilling(ctx context.Context, callID string) (Eligibility, error) {
	rec, err := e.store.Get(ctx, callID)
	if err != nil {
		return Eligibility{}, err
	}
	can, reason := evaluateStart(rec)
	return Eligibility{CanStart: can, Reason: reason, Call: rec}, nil
}

// evaluateStart is the pure billing-start predicate: both joined, audio
// published, status connected, not already started.
func evaluateStart(rec CallRecord) (bool, StartBlockReason) {
	switch {
	case rec.BillingStarted:
		return false, BlockAlreadyStarted
	case !rec.UserJoined || !rec.AstrologerJoined:
		return false, BlockNotBothJoined
	case !rec.AudioTrackPublished:
		return false, BlockAudioNotPublished
	case rec.Status != StatusConnected:
		return false, BlockWrongStatus
	}
	return true, BlockNone
}

// Diagnose builds the troubleshooting view for a call: the durable record,
// the start predicate, and whether a live ticker exists. A durable
// billingStarted with no live ticker and no finalize means the metering
// goroutine was lost (typically a restart) and the call needs a finalize
// with a derived duration.
func (e *Engine) Diagnose(ctx context.Context, callID string) (Diagnosis, error) {
	rec, err := e.store.Get(ctx, callID)
	if err != nil {
		return Diagnosis{}, err
	}

	snap := e.GetBillingState(callID)
	can, reason := evaluateStart(rec)

	d := Diagnosis{
		Call:            rec,
		CanStartBilling: can,
		BlockReason:     reason,
		TickerRunning:   snap != nil,
		Ticker:          snap,
		TickerLost:      rec.BillingStarted && !rec.BillingFinalized && snap == nil,
	}

	switch {
	case d.TickerLost:
		d.Recommendations = append(d.Recommendations,
			"billing started but no live ticker exists; finalize the call to settle with a derived duration")
	case rec.BillingFinalized:
		d.Recommendations = append(d.Recommendations, "call is settled; no action needed")
	case d.TickerRunning:
		d.Recommendations = append(d.Recommendations, "billing is running normally")
	case can:
		d.Recommendations = append(d.Recommendations, "all conditions met; trigger billing start")
	default:
		switch reason {
		case BlockNotBothJoined:
			d.Recommendations = append(d.Recommendations, "waiting for both participants to join")
		case BlockAudioNotPublished:
			d.Recommendations = append(d.Recommendations, "waiting for an audio track to be published")
		case BlockWrongStatus:
			d.Recommendations = append(d.Recommendations,
				fmt.Sprintf("call status is %q, expected connected", rec.Status))
		}
	}
	return d, nil
}

// SweepStaleCalls cancels calls that never connected within the pending
// timeout. Returns how many calls were cancelled.
func (e *Engine) SweepStaleCalls(ctx context.Context) (int, error) {
	cutoff := e.clock().Add(-e.cfg.PendingTimeout)
	stale, err := e.store.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, rec := range stale {
		won, err := e.store.CancelStale(ctx, rec.CallID, e.clock())
		if err != nil {
			e.log.ErrorContext(ctx, "stale call cancel failed", "call_id", rec.CallID, "error", err)
			continue
		}
		if won {
			swept++
			_ = e.presence.ReleaseBusy(ctx, rec.AstrologerID, rec.CallID)
			e.log.InfoContext(ctx, "stale call cancelled",
				"call_id", rec.CallID, "created_at", rec.CreatedAt)
		}
	}
	return swept, nil
}

// Shutdown settles every live ticker and waits for the metering goroutines
// to exit. Calls whose finalize fails stay recoverable through the derived
// path after restart.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.tickers))
	for id := range e.tickers {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if _, err := e.FinalizeBilling(ctx, id, ReasonCallEnded); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
