package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ticker is the in-process metering state for one billed call. Durable truth
// stays in the store and ledger; this only accumulates what the loop has
// actually charged so the settle write commits metered values.
type ticker struct {
	callID       string
	userID       string
	astrologerID string
	rate         RateCard
	startedAt    time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu                 sync.Mutex
	durationSeconds    int
	totalDeductedMinor int64
	totalEarningMinor  int64
	// pendingEarnMinor holds a provider credit whose posting failed
	// transiently; it is retried on the next charged tick.
	pendingEarnMinor int64
}

func (t *ticker) snapshot() TickerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TickerSnapshot{
		CallID:             t.callID,
		StartedAt:          t.startedAt,
		DurationSeconds:    t.durationSeconds,
		TotalDeductedMinor: t.totalDeductedMinor,
		TotalEarningMinor:  t.totalEarningMinor,
		RatePerSecondMinor: t.rate.PerSecondMinor,
	}
}

func (t *ticker) requestStop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// StartBilling flips the durable billingStarted flag and launches the
// metering goroutine. Safe to call from every trigger path concurrently:
// exactly one caller wins the store transition and owns the ticker; everyone
// else gets AlreadyStarted with the winner's rates.
func (e *Engine) StartBilling(ctx context.Context, callID string) (StartResult, error) {
	if callID == "" {
		return StartResult{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}

	e.mu.Lock()
	if tk, ok := e.tickers[callID]; ok {
		e.mu.Unlock()
		return StartResult{AlreadyStarted: true, Rate: tk.rate}, nil
	}
	e.mu.Unlock()

	rec, err := e.store.Get(ctx, callID)
	if err != nil {
		return StartResult{}, err
	}
	if rec.BillingStarted {
		return StartResult{AlreadyStarted: true, Rate: recordedRate(rec)}, nil
	}
	if can, reason := evaluateStart(rec); !can {
		return StartResult{}, fmt.Errorf("%w: billing cannot start: %s", ErrConflict, reason)
	}

	rate, err := e.rates.ResolveRate(ctx, rec.AstrologerID, rec.CallType)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: no rate for astrologer %s: %v", ErrValidation, rec.AstrologerID, err)
	}
	if rate.PerSecondMinor <= 0 {
		return StartResult{}, fmt.Errorf("%w: resolved per-second rate must be positive", ErrValidation)
	}

	if e.cfg.MinBalanceMinutes > 0 {
		bal, err := e.ledger.Balance(ctx, rec.UserID)
		if err != nil {
			return StartResult{}, err
		}
		need := rate.PerMinuteMinor * int64(e.cfg.MinBalanceMinutes)
		if bal < need {
			return StartResult{}, fmt.Errorf("%w: balance %d below required %d", ErrInsufficientBalance, bal, need)
		}
	}

	now := e.clock()
	rec, won, err := e.store.BeginBilling(ctx, callID, rate, now)
	if err != nil {
		return StartResult{}, err
	}
	if !won {
		return StartResult{AlreadyStarted: true, Rate: recordedRate(rec)}, nil
	}

	tk := &ticker{
		callID:       callID,
		userID:       rec.UserID,
		astrologerID: rec.AstrologerID,
		rate:         rate,
		startedAt:    now,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	e.mu.Lock()
	e.tickers[callID] = tk
	e.mu.Unlock()

	if err := e.presence.MarkBusy(ctx, rec.AstrologerID, callID); err != nil {
		e.log.WarnContext(ctx, "busy marker set failed", "call_id", callID, "error", err)
	}
	e.metrics.BillingStarted(string(rec.CallType))
	e.log.InfoContext(ctx, "billing started",
		"call_id", callID, "user_id", rec.UserID, "astrologer_id", rec.AstrologerID,
		"rate_per_second_minor", rate.PerSecondMinor, "currency", rate.Currency)

	go e.runTicker(tk)
	return StartResult{AlreadyStarted: false, Rate: rate}, nil
}

func recordedRate(rec CallRecord) RateCard {
	return RateCard{
		PerSecondMinor: rec.RatePerSecondMinor,
		PerMinuteMinor: rec.RatePerMinuteMinor,
		Currency:       rec.Currency,
	}
}

func (e *Engine) runTicker(tk *ticker) {
	defer close(tk.done)

	t := time.NewTicker(e.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-tk.stop:
			return
		case <-t.C:
			if exhausted := e.tickOnce(context.Background(), tk); exhausted {
				// The loop settles its own call here; going through
				// FinalizeBilling would deadlock waiting on tk.done.
				if _, err := e.settle(context.Background(), tk.callID, ReasonInsufficientBalance, tk); err != nil {
					e.log.Error("settle after balance exhaustion failed",
						"call_id", tk.callID, "error", err)
				}
				e.detachTicker(tk)
				return
			}
		}
	}
}

// tickOnce charges one second. Debit first: a second only counts when the
// user actually paid for it, so committed duration always equals charged
// seconds. Returns true when the balance is exhausted and the call must end.
func (e *Engine) tickOnce(ctx context.Context, tk *ticker) bool {
	tk.mu.Lock()
	second := tk.durationSeconds + 1
	pending := tk.pendingEarnMinor
	tk.mu.Unlock()

	err := e.ledger.DebitTick(ctx, tk.userID, tk.callID, tk.rate.PerSecondMinor, tk.rate.Currency, second)
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		e.metrics.Tick(TickOutcomeInsufficient)
		return true
	case err != nil:
		// Transient or unknown failure: skip the second entirely and retry
		// on the next tick. The user is never charged for an unmetered gap.
		e.metrics.Tick(TickOutcomeTransient)
		e.log.Warn("tick debit failed, retrying next tick",
			"call_id", tk.callID, "second", second, "error", err)
		return false
	}

	earn := providerShare(tk.rate.PerSecondMinor, e.cfg.ProviderSharePercent)
	toCredit := earn + pending

	tk.mu.Lock()
	tk.durationSeconds = second
	tk.totalDeductedMinor += tk.rate.PerSecondMinor
	tk.mu.Unlock()

	if toCredit > 0 {
		if err := e.ledger.CreditTick(ctx, tk.astrologerID, tk.callID, toCredit, tk.rate.Currency, second); err != nil {
			// Carry the credit forward; the debit already happened and must
			// not be redone.
			tk.mu.Lock()
			tk.pendingEarnMinor = toCredit
			tk.mu.Unlock()
			e.log.Warn("tick credit failed, carried to next tick",
				"call_id", tk.callID, "second", second, "amount_minor", toCredit, "error", err)
		} else {
			tk.mu.Lock()
			tk.pendingEarnMinor = 0
			tk.totalEarningMinor += toCredit
			tk.mu.Unlock()
		}
	}

	e.metrics.Tick(TickOutcomeCharged)
	return false
}

func providerShare(amountMinor int64, percent int) int64 {
	return amountMinor * int64(percent) / 100
}

// FinalizeBilling stops the ticker (if any) and commits the settlement
// exactly once. Redundant calls, including concurrent ones, return the
// committed values with AlreadyFinalized set.
//
// The ticker stays registered until the settlement commits: a finalizer that
// races another one still finds the ticker, waits for the loop to drain, and
// settles against the metered totals. Only calls that never had a ticker in
// this process take the derived path.
func (e *Engine) FinalizeBilling(ctx context.Context, callID, reason string) (FinalizeResult, error) {
	if callID == "" {
		return FinalizeResult{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}
	if reason == "" {
		reason = ReasonCallEnded
	}

	e.mu.Lock()
	tk := e.tickers[callID]
	e.mu.Unlock()
	if tk != nil {
		tk.requestStop()
		<-tk.done
	}

	res, err := e.settle(ctx, callID, reason, tk)
	if err == nil && tk != nil {
		e.detachTicker(tk)
	}
	return res, err
}

// settle commits the one settlement write. tk carries metered values when a
// live ticker was stopped; nil tk with a started record means the ticker was
// lost and the duration is derived from timestamps instead, with no ledger
// movement (whatever the lost ticker charged already stands).
func (e *Engine) settle(ctx context.Context, callID, reason string, tk *ticker) (FinalizeResult, error) {
	rec, err := e.store.Get(ctx, callID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if rec.BillingFinalized {
		return finalizeResultFrom(rec, true), nil
	}

	now := e.clock()
	fin := FinalCommit{At: now, Reason: reason}

	switch {
	case !rec.BillingStarted:
		// Never billed: nothing was charged, the call did not happen.
		fin.Status = StatusCancelled
	case tk != nil:
		snap := tk.snapshot()
		fin.DurationSeconds = snap.DurationSeconds
		fin.AmountMinor = snap.TotalDeductedMinor
		fin.EarningMinor = snap.TotalEarningMinor
		fin.Status = settleStatus(reason)
	default:
		// Ticker lost (restart). Derive the duration from wall time and
		// price it, but move no money: the charges the lost ticker posted
		// are already in the ledger and cannot be reconstructed safely.
		dur := 0
		if rec.BillingStartedAt != nil {
			if d := int(now.Sub(*rec.BillingStartedAt).Seconds()); d > 0 {
				dur = d
			}
		}
		fin.DurationSeconds = dur
		fin.AmountMinor = int64(dur) * rec.RatePerSecondMinor
		fin.EarningMinor = providerShare(fin.AmountMinor, e.cfg.ProviderSharePercent)
		fin.Status = settleStatus(reason)
		fin.Derived = true
	}

	rec, won, err := e.store.CommitFinal(ctx, callID, fin)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !won {
		return finalizeResultFrom(rec, true), nil
	}

	if err := e.presence.ReleaseBusy(ctx, rec.AstrologerID, callID); err != nil {
		e.log.WarnContext(ctx, "busy marker release failed", "call_id", callID, "error", err)
	}
	e.metrics.BillingFinalized(string(rec.Status), rec.EndReason, rec.DerivedSettlement,
		rec.ActualDurationSeconds, rec.FinalAmountMinor)
	e.log.InfoContext(ctx, "billing finalized",
		"call_id", callID, "status", rec.Status, "reason", rec.EndReason,
		"duration_seconds", rec.ActualDurationSeconds,
		"final_amount_minor", rec.FinalAmountMinor,
		"astrologer_earning_minor", rec.AstrologerEarningMinor,
		"derived", rec.DerivedSettlement)

	return finalizeResultFrom(rec, false), nil
}

// settleStatus maps a termination reason to the terminal status. A call that
// actually billed completed unless it was explicitly torn down before it got
// going (timeout or cancellation).
func settleStatus(reason string) CallStatus {
	switch reason {
	case ReasonTimeout, ReasonCancelled:
		return StatusCancelled
	default:
		return StatusCompleted
	}
}

func finalizeResultFrom(rec CallRecord, already bool) FinalizeResult {
	return FinalizeResult{
		AlreadyFinalized:       already,
		Status:                 rec.Status,
		Reason:                 rec.EndReason,
		ActualDurationSeconds:  rec.ActualDurationSeconds,
		FinalAmountMinor:       rec.FinalAmountMinor,
		AstrologerEarningMinor: rec.AstrologerEarningMinor,
		Derived:                rec.DerivedSettlement,
	}
}

// GetBillingState returns the live ticker snapshot, or nil when no ticker is
// running in this process.
func (e *Engine) GetBillingState(callID string) *TickerSnapshot {
	e.mu.Lock()
	tk, ok := e.tickers[callID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	snap := tk.snapshot()
	return &snap
}

// detachTicker removes tk from the registry only if it is still the
// registered ticker; a concurrent finalizer may have detached it already.
func (e *Engine) detachTicker(tk *ticker) {
	e.mu.Lock()
	if cur, ok := e.tickers[tk.callID]; ok && cur == tk {
		delete(e.tickers, tk.callID)
	}
	e.mu.Unlock()
}
