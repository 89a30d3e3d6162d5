package billing

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps call records in process memory with the same transition
// semantics as the Postgres store. Useful for tests and early development;
// not intended for production.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]CallRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, rec CallRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[rec.CallID]; ok {
		return ErrConflict
	}
	s.calls[rec.CallID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (CallRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) MarkJoined(ctx context.Context, callID string, p ParticipantType, now time.Time) (CallRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}

	switch p {
	case ParticipantUser:
		rec.UserJoined = true
	case ParticipantAstrologer:
		rec.AstrologerJoined = true
	default:
		return CallRecord{}, ErrValidation
	}

	if rec.UserJoined && rec.AstrologerJoined && canConnect(rec.Status) {
		rec.Status = StatusConnected
	}
	rec.UpdatedAt = now
	s.calls[callID] = rec
	return rec, nil
}

func (s *MemoryStore) MarkLeft(ctx context.Context, callID string, p ParticipantType, now time.Time) (CallRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}

	switch p {
	case ParticipantUser:
		rec.UserJoined = false
	case ParticipantAstrologer:
		rec.AstrologerJoined = false
	default:
		return CallRecord{}, ErrValidation
	}

	if canConnect(rec.Status) {
		// Never reached connected: the attempt is abandoned.
		rec.Status = StatusCancelled
		t := now
		rec.CancelledAt = &t
		rec.EndTime = &t
	}
	rec.UpdatedAt = now
	s.calls[callID] = rec
	return rec, nil
}

func (s *MemoryStore) MarkAudioPublished(ctx context.Context, callID string, now time.Time) (CallRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	if !rec.AudioTrackPublished {
		rec.AudioTrackPublished = true
		rec.UpdatedAt = now
		s.calls[callID] = rec
	}
	return rec, nil
}

func (s *MemoryStore) BeginBilling(ctx context.Context, callID string, rate RateCard, now time.Time) (CallRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[callID]
	if !ok {
		return CallRecord{}, false, ErrNotFound
	}
	if rec.BillingStarted {
		return rec, false, nil
	}
	rec.BillingStarted = true
	rec.RatePerSecondMinor = rate.PerSecondMinor
	rec.RatePerMinuteMinor = rate.PerMinuteMinor
	rec.Currency = rate.Currency
	t := now
	rec.BillingStartedAt = &t
	rec.UpdatedAt = now
	s.calls[callID] = rec
	return rec, true, nil
}

func (s *MemoryStore) CommitFinal(ctx context.Context, callID string, fin FinalCommit) (CallRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[callID]
	if !ok {
		return CallRecord{}, false, ErrNotFound
	}
	if rec.BillingFinalized {
		return rec, false, nil
	}
	rec.BillingFinalized = true
	rec.ActualDurationSeconds = fin.DurationSeconds
	rec.FinalAmountMinor = fin.AmountMinor
	rec.AstrologerEarningMinor = fin.EarningMinor
	rec.Status = fin.Status
	rec.EndReason = fin.Reason
	rec.DerivedSettlement = fin.Derived
	t := fin.At
	rec.EndTime = &t
	if fin.Status == StatusCancelled {
		rec.CancelledAt = &t
	}
	rec.UpdatedAt = fin.At
	s.calls[callID] = rec
	return rec, true, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, cutoff time.Time) ([]CallRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CallRecord
	for _, rec := range s.calls {
		if canConnect(rec.Status) && rec.CreatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) CancelStale(ctx context.Context, callID string, now time.Time) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[callID]
	if !ok {
		return false, ErrNotFound
	}
	if !canConnect(rec.Status) {
		return false, nil
	}
	rec.Status = StatusCancelled
	t := now
	rec.CancelledAt = &t
	rec.EndTime = &t
	rec.UpdatedAt = now
	s.calls[callID] = rec
	return true, nil
}

// canConnect reports whether the status may still advance to connected.
func canConnect(s CallStatus) bool {
	return s == StatusCreated || s == StatusQueued || s == StatusPending
}
