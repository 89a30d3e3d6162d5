package reporting

import (
	"context"
	"errors"
	"time"

	"consult-platform/internal/billing"
	"consult-platform/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources when possible (wallet
// ledger, finalized call records).

type Repository interface {
	ListUserCalls(ctx context.Context, userID string, from, to time.Time) ([]billing.CallRecord, error)
	ListAstrologerCalls(ctx context.Context, astrologerID string, from, to time.Time) ([]billing.CallRecord, error)
	ListWalletLedger(ctx context.Context, ownerID string, from, to time.Time) ([]wallet.WalletLedger, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListUserCalls(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, CallType: req.CallType}
	for _, c := range rows {
		if req.CallType != "" && string(c.CallType) != req.CallType {
			continue
		}
		out.TotalCalls++
		switch c.Status {
		case billing.StatusCompleted:
			out.CompletedCalls++
		case billing.StatusCancelled:
			out.CancelledCalls++
		case billing.StatusConnected:
			out.ConnectedCalls++
		}
		if !c.BillingFinalized {
			continue
		}
		if c.BillingStarted {
			out.BilledCalls++
		}
		out.TotalBilledSeconds += c.ActualDurationSeconds
		out.TotalChargedMinor += c.FinalAmountMinor
		if out.Currency == "" && c.Currency != "" {
			out.Currency = c.Currency
		}
	}
	if out.BilledCalls > 0 {
		out.AverageBilledSeconds = out.TotalBilledSeconds / out.BilledCalls
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.OwnerID == "" || !validRange(req.Range) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	ledgers, err := s.repo.ListWalletLedger(ctx, req.OwnerID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{OwnerID: req.OwnerID, Currency: req.Currency}
	for _, l := range ledgers {
		if out.Currency == "" {
			out.Currency = l.Currency
		}
		if req.Currency != "" && l.Currency != req.Currency {
			continue
		}

		if l.AmountMinor > 0 {
			out.TotalCreditMinor += l.AmountMinor
		} else {
			out.TotalDebitMinor += -l.AmountMinor
		}

		// Admin adjustments carry a fixed external ref; per-second call
		// charges reference their call id.
		switch {
		case l.ExternalRef == "admin_manual_credit":
			out.AdminAdjustMinor += l.AmountMinor
		case l.AmountMinor < 0:
			out.CallDebitMinor += -l.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	return out, nil
}

func (s *Service) EarningsSummary(ctx context.Context, req EarningsSummaryRequest) (EarningsSummary, error) {
	if req.AstrologerID == "" || !validRange(req.Range) {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return EarningsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAstrologerCalls(ctx, req.AstrologerID, req.Range.From, req.Range.To)
	if err != nil {
		return EarningsSummary{}, err
	}

	out := EarningsSummary{AstrologerID: req.AstrologerID}
	for _, c := range rows {
		out.TotalCalls++
		switch c.Status {
		case billing.StatusCompleted:
			out.CompletedCalls++
		case billing.StatusCancelled:
			out.CancelledCalls++
		}
		if !c.BillingFinalized {
			continue
		}
		out.TotalBilledSeconds += c.ActualDurationSeconds
		out.TotalEarningsMinor += c.AstrologerEarningMinor
		if out.Currency == "" && c.Currency != "" {
			out.Currency = c.Currency
		}
	}
	return out, nil
}
