package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"consult-platform/internal/billing"
	"consult-platform/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early
// development.

type MemoryRepo struct {
	mu sync.Mutex

	Calls []billing.CallRecord

	// Ledgers is keyed by owner id; the durable repo resolves owners via a
	// wallets join instead.
	Ledgers map[string][]wallet.WalletLedger
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Ledgers: map[string][]wallet.WalletLedger{}}
}

func inWindow(at time.Time, from, to time.Time) bool {
	if at.IsZero() {
		return true
	}
	return !at.Before(from) && at.Before(to)
}

func (r *MemoryRepo) ListUserCalls(_ context.Context, userID string, from, to time.Time) ([]billing.CallRecord, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]billing.CallRecord, 0)
	for _, c := range r.Calls {
		if c.UserID != userID || !inWindow(c.CreatedAt, from, to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListAstrologerCalls(_ context.Context, astrologerID string, from, to time.Time) ([]billing.CallRecord, error) {
	if astrologerID == "" {
		return nil, errors.New("astrologer_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]billing.CallRecord, 0)
	for _, c := range r.Calls {
		if c.AstrologerID != astrologerID || !inWindow(c.CreatedAt, from, to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListWalletLedger(_ context.Context, ownerID string, from, to time.Time) ([]wallet.WalletLedger, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.WalletLedger, 0)
	for _, l := range r.Ledgers[ownerID] {
		if !inWindow(l.CreatedAt, from, to) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
