package pricing

import (
	"context"
	"errors"
	"time"
)

// Service resolves per-call rates from astrologer rate plans.
//
// Contract:
//   - Plan lookup honors effective windows and active status.
//   - The per-second rate is derived by truncating the effective per-minute
//     price: the rounding error always favors the paying user.
//   - Pure calculation + repository lookups, no provider calls.
type Service struct {
	repo  PlanRepository
	clock func() time.Time
}

func NewService(repo PlanRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// PlanRepository abstracts rate-plan persistence.
// Implementation can be Postgres, cached, etc.
type PlanRepository interface {
	FindPlan(ctx context.Context, astrologerID, callType string, at time.Time) (RatePlan, bool, error)
}

type Rate struct {
	AstrologerID string `json:"astrologer_id"`
	CallType     string `json:"call_type"`
	Currency     string `json:"currency"`

	PerMinuteMinor  int64 `json:"per_minute_minor"`
	PerSecondMinor  int64 `json:"per_second_minor"`
	DiscountPercent int   `json:"discount_percent"`
}

var (
	ErrPlanNotFound   = errors.New("rate plan not found")
	ErrInvalidRateReq = errors.New("invalid rate request")
)

// Resolve returns the effective rate for an astrologer and call type.
func (s *Service) Resolve(ctx context.Context, astrologerID, callType string, at time.Time) (Rate, error) {
	if astrologerID == "" || callType == "" {
		return Rate{}, ErrInvalidRateReq
	}
	if at.IsZero() {
		at = s.clock().UTC()
	}

	plan, ok, err := s.repo.FindPlan(ctx, astrologerID, callType, at)
	if err != nil {
		return Rate{}, err
	}
	if !ok {
		return Rate{}, ErrPlanNotFound
	}

	perMinute := effectivePerMinute(plan.BasePricePerMinuteMinor, plan.DiscountPercent)
	if perMinute <= 0 {
		return Rate{}, ErrPlanNotFound
	}

	return Rate{
		AstrologerID:    astrologerID,
		CallType:        callType,
		Currency:        plan.Currency,
		PerMinuteMinor:  perMinute,
		PerSecondMinor:  perMinute / 60,
		DiscountPercent: plan.DiscountPercent,
	}, nil
}

// EstimateCost prices a prospective call duration at the current rate.
func (s *Service) EstimateCost(ctx context.Context, astrologerID, callType string, durationSeconds int) (int64, Rate, error) {
	if durationSeconds <= 0 {
		return 0, Rate{}, ErrInvalidRateReq
	}
	rate, err := s.Resolve(ctx, astrologerID, callType, time.Time{})
	if err != nil {
		return 0, Rate{}, err
	}
	return rate.PerSecondMinor * int64(durationSeconds), rate, nil
}

func effectivePerMinute(baseMinor int64, discountPercent int) int64 {
	if discountPercent < 0 {
		discountPercent = 0
	}
	if discountPercent > 100 {
		discountPercent = 100
	}
	return baseMinor * int64(100-discountPercent) / 100
}
