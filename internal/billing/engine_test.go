package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeLedger is a thread-safe in-memory ledger for engine tests. It enforces
// the non-negative balance rule and can inject transient failures.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	debits   int
	credits  int
	// failDebits makes the next N debits fail transiently.
	failDebits int
	// failCredits makes the next N credits fail transiently.
	failCredits int
}

func newFakeLedger(balances map[string]int64) *fakeLedger {
	b := make(map[string]int64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &fakeLedger{balances: b}
}

func (l *fakeLedger) Balance(_ context.Context, ownerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[ownerID], nil
}

func (l *fakeLedger) DebitTick(_ context.Context, userID, _ string, amountMinor int64, _ string, _ int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failDebits > 0 {
		l.failDebits--
		return fmt.Errorf("%w: injected", ErrTransient)
	}
	if l.balances[userID] < amountMinor {
		return ErrInsufficientBalance
	}
	l.balances[userID] -= amountMinor
	l.debits++
	return nil
}

func (l *fakeLedger) CreditTick(_ context.Context, astrologerID, _ string, amountMinor int64, _ string, _ int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failCredits > 0 {
		l.failCredits--
		return fmt.Errorf("%w: injected", ErrTransient)
	}
	l.balances[astrologerID] += amountMinor
	l.credits++
	return nil
}

type fakeRates struct {
	rate RateCard
	err  error
}

func (r fakeRates) ResolveRate(context.Context, string, CallType) (RateCard, error) {
	return r.rate, r.err
}

func testRate() RateCard {
	return RateCard{PerSecondMinor: 2, PerMinuteMinor: 120, Currency: "INR"}
}

func newTestEngine(t *testing.T, cfg Config, ledger *fakeLedger) *Engine {
	t.Helper()
	if ledger == nil {
		ledger = newFakeLedger(map[string]int64{"u1": 1_000_000})
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(NewMemoryStore(), ledger, fakeRates{rate: testRate()}, nil, nil, log, cfg)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func mustCreate(t *testing.T, e *Engine, callID string) CallRecord {
	t.Helper()
	rec, err := e.CreateCall(context.Background(), CreateCallRequest{
		CallID: callID, UserID: "u1", AstrologerID: "a1", CallType: CallTypeVoice,
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	return rec
}

func TestCreateCall_Validation(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)
	ctx := context.Background()

	cases := []CreateCallRequest{
		{UserID: "", AstrologerID: "a1", CallType: CallTypeVoice},
		{UserID: "u1", AstrologerID: "", CallType: CallTypeVoice},
		{UserID: "u1", AstrologerID: "a1", CallType: "fax"},
		{UserID: "u1", AstrologerID: "a1", CallType: CallTypeVoice, Status: StatusCompleted},
	}
	for i, req := range cases {
		if _, err := e.CreateCall(ctx, req); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}

	rec, err := e.CreateCall(ctx, CreateCallRequest{UserID: "u1", AstrologerID: "a1", CallType: CallTypeVideo})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if rec.CallID == "" {
		t.Fatalf("expected a generated call id")
	}
	if rec.Status != StatusCreated {
		t.Fatalf("expected status created, got %q", rec.Status)
	}

	if _, err := e.CreateCall(ctx, CreateCallRequest{
		CallID: rec.CallID, UserID: "u1", AstrologerID: "a1", CallType: CallTypeVoice,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate id, got %v", err)
	}
}

func TestBillingUnlocksOnlyWhenAllConditionsMet(t *testing.T) {
	e := newTestEngine(t, Config{TickInterval: time.Hour}, nil)
	ctx := context.Background()
	mustCreate(t, e, "c1")

	jr, err := e.MarkParticipantJoined(ctx, "c1", ParticipantUser)
	if err != nil {
		t.Fatalf("join user: %v", err)
	}
	if jr.BothJoined || jr.ShouldCheckBilling {
		t.Fatalf("one participant must not unlock billing: %+v", jr)
	}

	jr, err = e.MarkParticipantJoined(ctx, "c1", ParticipantAstrologer)
	if err != nil {
		t.Fatalf("join astrologer: %v", err)
	}
	if !jr.BothJoined || !jr.ShouldCheckBilling {
		t.Fatalf("both joined should request a billing check: %+v", jr)
	}
	if jr.Status != StatusConnected {
		t.Fatalf("expected connected, got %q", jr.Status)
	}

	elig, err := e.CanStartBilling(ctx, "c1")
	if err != nil {
		t.Fatalf("CanStartBilling: %v", err)
	}
	if elig.CanStart || elig.Reason != BlockAudioNotPublished {
		t.Fatalf("expected audio block, got %+v", elig)
	}

	elig, err = e.MarkAudioTrackPublished(ctx, "c1")
	if err != nil {
		t.Fatalf("MarkAudioTrackPublished: %v", err)
	}
	if !elig.CanStart {
		t.Fatalf("all conditions met, expected eligible: %+v", elig)
	}

	res, err := e.StartBilling(ctx, "c1")
	if err != nil {
		t.Fatalf("StartBilling: %v", err)
	}
	if res.AlreadyStarted {
		t.Fatalf("first start must win")
	}
	if res.Rate != testRate() {
		t.Fatalf("unexpected rate: %+v", res.Rate)
	}
	if e.GetBillingState("c1") == nil {
		t.Fatalf("expected a live ticker")
	}
}

func TestEvaluateStart_BlockReasons(t *testing.T) {
	base := CallRecord{
		UserJoined: true, AstrologerJoined: true,
		AudioTrackPublished: true, Status: StatusConnected,
	}

	cases := []struct {
		name   string
		mutate func(*CallRecord)
		want   StartBlockReason
	}{
		{"eligible", func(*CallRecord) {}, BlockNone},
		{"already started", func(r *CallRecord) { r.BillingStarted = true }, BlockAlreadyStarted},
		{"user missing", func(r *CallRecord) { r.UserJoined = false }, BlockNotBothJoined},
		{"astrologer missing", func(r *CallRecord) { r.AstrologerJoined = false }, BlockNotBothJoined},
		{"no audio", func(r *CallRecord) { r.AudioTrackPublished = false }, BlockAudioNotPublished},
		{"not connected", func(r *CallRecord) { r.Status = StatusPending }, BlockWrongStatus},
		// already_started is reported even when other conditions regressed.
		{"started wins over others", func(r *CallRecord) {
			r.BillingStarted = true
			r.UserJoined = false
		}, BlockAlreadyStarted},
	}
	for _, tc := range cases {
		rec := base
		tc.mutate(&rec)
		can, reason := evaluateStart(rec)
		if reason != tc.want || can != (tc.want == BlockNone) {
			t.Fatalf("%s: got can=%v reason=%q, want %q", tc.name, can, reason, tc.want)
		}
	}
}

func TestStartBilling_BlockedBeforeConditions(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)
	ctx := context.Background()
	mustCreate(t, e, "c1")

	if _, err := e.StartBilling(ctx, "c1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict before conditions met, got %v", err)
	}
	if _, err := e.StartBilling(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartBilling_ConcurrentSingleWinner(t *testing.T) {
	e := newTestEngine(t, Config{TickInterval: time.Hour}, nil)
	ctx := context.Background()
	mustCreate(t, e, "c1")
	connectCall(t, e, "c1")

	const n = 16
	var wg sync.WaitGroup
	results := make([]StartResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.StartBilling(ctx, "c1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("start %d: %v", i, errs[i])
		}
		if !results[i].AlreadyStarted {
			winners++
		}
		if results[i].Rate.PerSecondMinor != testRate().PerSecondMinor {
			t.Fatalf("start %d: every caller must see the winner's rate, got %+v", i, results[i].Rate)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestStartBilling_MinBalanceGate(t *testing.T) {
	ledger := newFakeLedger(map[string]int64{"u1": 100})
	e := newTestEngine(t, Config{TickInterval: time.Hour, MinBalanceMinutes: 2}, ledger)
	ctx := context.Background()
	mustCreate(t, e, "c1")
	connectCall(t, e, "c1")

	// Rate is 120/min; 2 minutes require 240 and the user holds 100.
	if _, err := e.StartBilling(ctx, "c1"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	ledger.mu.Lock()
	ledger.balances["u1"] = 240
	ledger.mu.Unlock()
	if _, err := e.StartBilling(ctx, "c1"); err != nil {
		t.Fatalf("StartBilling with covered balance: %v", err)
	}
}

func TestMarkParticipantLeft_BeforeConnectCancels(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)
	ctx := context.Background()
	mustCreate(t, e, "c1")

	if _, err := e.MarkParticipantJoined(ctx, "c1", ParticipantUser); err != nil {
		t.Fatalf("join: %v", err)
	}
	lr, err := e.MarkParticipantLeft(ctx, "c1", ParticipantUser)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if lr.Status != StatusCancelled {
		t.Fatalf("never-connected leave should cancel, got %q", lr.Status)
	}
	if lr.ShouldFinalize {
		t.Fatalf("nothing billed, nothing to finalize")
	}

	rec, err := e.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if rec.CancelledAt == nil || rec.EndTime == nil {
		t.Fatalf("cancelled call must carry cancellation timestamps: %+v", rec)
	}
}

func TestSweepStaleCalls(t *testing.T) {
	e := newTestEngine(t, Config{PendingTimeout: 2 * time.Minute}, nil)
	ctx := context.Background()

	now := time.Now()
	e.clock = func() time.Time { return now }
	mustCreate(t, e, "old1")
	mustCreate(t, e, "old2")
	mustCreate(t, e, "connected")
	connectCall(t, e, "connected")

	e.clock = func() time.Time { return now.Add(3 * time.Minute) }
	mustCreate(t, e, "fresh")

	swept, err := e.SweepStaleCalls(ctx)
	if err != nil {
		t.Fatalf("SweepStaleCalls: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected 2 swept, got %d", swept)
	}

	for id, want := range map[string]CallStatus{
		"old1": StatusCancelled, "old2": StatusCancelled,
		"connected": StatusConnected, "fresh": StatusCreated,
	} {
		rec, err := e.GetCall(ctx, id)
		if err != nil {
			t.Fatalf("GetCall %s: %v", id, err)
		}
		if rec.Status != want {
			t.Fatalf("%s: expected %q, got %q", id, want, rec.Status)
		}
	}
}

func TestDiagnose(t *testing.T) {
	e := newTestEngine(t, Config{TickInterval: time.Hour}, nil)
	ctx := context.Background()
	mustCreate(t, e, "c1")

	d, err := e.Diagnose(ctx, "c1")
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if d.CanStartBilling || d.BlockReason != BlockNotBothJoined || d.TickerLost {
		t.Fatalf("fresh call diagnosis wrong: %+v", d)
	}
	if len(d.Recommendations) == 0 {
		t.Fatalf("expected a recommendation")
	}

	connectCall(t, e, "c1")
	if _, err := e.StartBilling(ctx, "c1"); err != nil {
		t.Fatalf("StartBilling: %v", err)
	}
	d, err = e.Diagnose(ctx, "c1")
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !d.TickerRunning || d.Ticker == nil || d.TickerLost {
		t.Fatalf("running call diagnosis wrong: %+v", d)
	}
}

func TestDiagnose_TickerLost(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)
	ctx := context.Background()
	mustCreate(t, e, "c1")
	connectCall(t, e, "c1")

	// Flip the durable flag directly, as if a previous process started
	// billing and died without settling.
	if _, won, err := e.store.BeginBilling(ctx, "c1", testRate(), e.clock()); err != nil || !won {
		t.Fatalf("BeginBilling: won=%v err=%v", won, err)
	}

	d, err := e.Diagnose(ctx, "c1")
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !d.TickerLost || d.TickerRunning || d.Ticker != nil {
		t.Fatalf("expected a lost ticker: %+v", d)
	}
	if len(d.Recommendations) == 0 {
		t.Fatalf("lost ticker must come with a remediation hint")
	}
}

// connectCall drives a call to the eligible state: both joined, audio
// published, connected.
func connectCall(t *testing.T, e *Engine, callID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.MarkParticipantJoined(ctx, callID, ParticipantUser); err != nil {
		t.Fatalf("join user: %v", err)
	}
	if _, err := e.MarkParticipantJoined(ctx, callID, ParticipantAstrologer); err != nil {
		t.Fatalf("join astrologer: %v", err)
	}
	if _, err := e.MarkAudioTrackPublished(ctx, callID); err != nil {
		t.Fatalf("publish audio: %v", err)
	}
}
