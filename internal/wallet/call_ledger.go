package wallet

import (
	"context"
	"errors"
	"fmt"

	"consult-platform/internal/billing"
)

// CallLedger adapts a wallet Poster to the billing engine's ledger port.
// Tick postings carry a deterministic (call, second) idempotency key, so a
// retried or replayed tick never moves money twice.
type CallLedger struct {
	poster   Poster
	currency string
}

func NewCallLedger(poster Poster, currency string) *CallLedger {
	if currency == "" {
		currency = "INR"
	}
	return &CallLedger{poster: poster, currency: currency}
}

func (l *CallLedger) Balance(ctx context.Context, ownerID string) (int64, error) {
	b, err := l.poster.GetBalance(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// No wallet means no funds, not an infrastructure failure.
			return 0, nil
		}
		return 0, fmt.Errorf("%w: balance lookup: %v", billing.ErrTransient, err)
	}
	return b.BalanceMinor, nil
}

func (l *CallLedger) DebitTick(ctx context.Context, userID, callID string, amountMinor int64, currency string, second int) error {
	if currency == "" {
		currency = l.currency
	}
	_, _, err := l.poster.Debit(ctx, userID, DebitRequest{
		AmountMinor:    amountMinor,
		Currency:       currency,
		ExternalRef:    callID,
		IdempotencyKey: tickKey(callID, "debit", second),
	})
	return mapPostingErr(err)
}

func (l *CallLedger) CreditTick(ctx context.Context, astrologerID, callID string, amountMinor int64, currency string, second int) error {
	if currency == "" {
		currency = l.currency
	}
	_, _, err := l.poster.Credit(ctx, astrologerID, CreditRequest{
		AmountMinor:    amountMinor,
		Currency:       currency,
		ExternalRef:    callID,
		IdempotencyKey: tickKey(callID, "credit", second),
	})
	return mapPostingErr(err)
}

func tickKey(callID, kind string, second int) string {
	return fmt.Sprintf("call:%s:%s:%d", callID, kind, second)
}

func mapPostingErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientFunds):
		return billing.ErrInsufficientBalance
	case errors.Is(err, ErrInvalidArgument):
		return fmt.Errorf("%w: %v", billing.ErrValidation, err)
	default:
		// Missing wallets and infrastructure failures alike are retried on
		// the next tick rather than silently dropping charges.
		return fmt.Errorf("%w: %v", billing.ErrTransient, err)
	}
}
