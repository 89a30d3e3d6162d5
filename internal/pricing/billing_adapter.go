package pricing

import (
	"context"
	"time"

	"consult-platform/internal/billing"
)

// RateSource adapts the pricing service to the billing engine's resolver
// port. The rate is resolved once at billing start and recorded on the call,
// so later plan changes never reprice a running call.
type RateSource struct {
	svc *Service
}

func NewRateSource(svc *Service) *RateSource {
	return &RateSource{svc: svc}
}

func (r *RateSource) ResolveRate(ctx context.Context, astrologerID string, callType billing.CallType) (billing.RateCard, error) {
	rate, err := r.svc.Resolve(ctx, astrologerID, string(callType), time.Time{})
	if err != nil {
		return billing.RateCard{}, err
	}
	return billing.RateCard{
		PerSecondMinor: rate.PerSecondMinor,
		PerMinuteMinor: rate.PerMinuteMinor,
		Currency:       rate.Currency,
	}, nil
}
