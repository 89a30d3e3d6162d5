package pricing

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early development.
//
// NOTE: This is not intended for production; replace with Postgres implementation.
type MemoryRepo struct {
	Plans []RatePlan
}

func (r *MemoryRepo) FindPlan(ctx context.Context, astrologerID, callType string, at time.Time) (RatePlan, bool, error) {
	_ = ctx

	// Prefer the most recent effective plan.
	var best RatePlan
	found := false

	for _, p := range r.Plans {
		if p.AstrologerID != astrologerID {
			continue
		}
		if p.CallType != callType {
			continue
		}
		if p.Status != PlanStatusActive {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}
