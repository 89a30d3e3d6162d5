package billing

import (
	"context"
	"time"
)

// CallStore is the durable record store contract.
//
// Every mutating method is a single atomic conditional transition: join,
// leave and media events for the same call arrive concurrently from
// independent channels, so implementations must never expose a read-then-
// write gap (row lock or compare-and-set).
//
// The store owns mechanical flag transitions only; orchestration (when to
// start or finalize billing) belongs to the Engine.
type CallStore interface {
	// Create inserts a new record. ErrConflict if the id already exists.
	Create(ctx context.Context, rec CallRecord) error

	// Get returns the current record. ErrNotFound if unknown.
	Get(ctx context.Context, callID string) (CallRecord, error)

	// MarkJoined sets the participant's joined flag (idempotent) and, when
	// both participants are joined and the status has not passed connected,
	// advances the status to connected. Returns the post-transition record.
	MarkJoined(ctx context.Context, callID string, p ParticipantType, now time.Time) (CallRecord, error)

	// MarkLeft clears the participant's joined flag. If the call never
	// reached connected, the status becomes cancelled.
	MarkLeft(ctx context.Context, callID string, p ParticipantType, now time.Time) (CallRecord, error)

	// MarkAudioPublished sets the audio flag (idempotent).
	MarkAudioPublished(ctx context.Context, callID string, now time.Time) (CallRecord, error)

	// BeginBilling performs the billingStarted false->true transition and
	// records the resolved rates. won=false when another caller got there
	// first; the returned record then carries the winner's rates.
	BeginBilling(ctx context.Context, callID string, rate RateCard, now time.Time) (rec CallRecord, won bool, err error)

	// CommitFinal performs the billingFinalized false->true transition,
	// committing duration, amounts, reason and the terminal status in one
	// write. won=false when already finalized; the returned record carries
	// the previously committed values.
	CommitFinal(ctx context.Context, callID string, fin FinalCommit) (rec CallRecord, won bool, err error)

	// ListStale returns non-terminal calls created before cutoff that never
	// reached connected. Used by the recovery sweep.
	ListStale(ctx context.Context, cutoff time.Time) ([]CallRecord, error)

	// CancelStale marks a never-connected call cancelled. won=false when the
	// call connected or terminated in the meantime.
	CancelStale(ctx context.Context, callID string, now time.Time) (won bool, err error)
}

// FinalCommit is the single durable settlement write.
type FinalCommit struct {
	DurationSeconds int
	AmountMinor     int64
	EarningMinor    int64
	Status          CallStatus
	Reason          string
	Derived         bool
	At              time.Time
}
