package wallet

import (
	"context"
	"errors"
	"testing"

	"consult-platform/internal/billing"
)

func seedMemory(t *testing.T, balanceMinor int64) *Memory {
	t.Helper()
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.EnsureWallet(ctx, "u1", OwnerTypeUser, "INR"); err != nil {
		t.Fatalf("EnsureWallet user: %v", err)
	}
	if _, err := m.EnsureWallet(ctx, "a1", OwnerTypeAstrologer, "INR"); err != nil {
		t.Fatalf("EnsureWallet astrologer: %v", err)
	}
	if balanceMinor > 0 {
		if _, _, err := m.Credit(ctx, "u1", CreditRequest{
			AmountMinor: balanceMinor, Currency: "INR", IdempotencyKey: "seed",
		}); err != nil {
			t.Fatalf("seed credit: %v", err)
		}
	}
	return m
}

func TestMemory_DebitInsufficientFunds(t *testing.T) {
	m := seedMemory(t, 100)
	ctx := context.Background()

	if _, _, err := m.Debit(ctx, "u1", DebitRequest{
		AmountMinor: 150, Currency: "INR", IdempotencyKey: "d1",
	}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	_, bal, err := m.Debit(ctx, "u1", DebitRequest{
		AmountMinor: 100, Currency: "INR", IdempotencyKey: "d2",
	})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal.BalanceMinor != 0 {
		t.Fatalf("expected 0 after full debit, got %d", bal.BalanceMinor)
	}
}

func TestMemory_IdempotentPostings(t *testing.T) {
	m := seedMemory(t, 100)
	ctx := context.Background()

	first, bal, err := m.Debit(ctx, "u1", DebitRequest{
		AmountMinor: 40, Currency: "INR", IdempotencyKey: "tick-1",
	})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal.BalanceMinor != 60 {
		t.Fatalf("expected 60, got %d", bal.BalanceMinor)
	}

	// Same key replayed: same entry back, no balance movement.
	again, bal, err := m.Debit(ctx, "u1", DebitRequest{
		AmountMinor: 40, Currency: "INR", IdempotencyKey: "tick-1",
	})
	if err != nil {
		t.Fatalf("replayed Debit: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("replay must return the original entry")
	}
	if bal.BalanceMinor != 60 {
		t.Fatalf("replay must not move money, balance %d", bal.BalanceMinor)
	}
}

func TestMemory_CurrencyMismatch(t *testing.T) {
	m := seedMemory(t, 100)
	if _, _, err := m.Credit(context.Background(), "u1", CreditRequest{
		AmountMinor: 10, Currency: "USD", IdempotencyKey: "k",
	}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMemory_Statement(t *testing.T) {
	m := seedMemory(t, 100)
	ctx := context.Background()

	for _, key := range []string{"d1", "d2"} {
		if _, _, err := m.Debit(ctx, "u1", DebitRequest{
			AmountMinor: 10, Currency: "INR", IdempotencyKey: key, ExternalRef: "call-1",
		}); err != nil {
			t.Fatalf("Debit %s: %v", key, err)
		}
	}

	entries, err := m.Statement(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected seed + 2 debits, got %d entries", len(entries))
	}
	if entries[0].IdempotencyKey != "d2" {
		t.Fatalf("statement must be newest first, got %q", entries[0].IdempotencyKey)
	}
}

func TestCallLedger_ErrorMapping(t *testing.T) {
	m := seedMemory(t, 5)
	l := NewCallLedger(m, "INR")
	ctx := context.Background()

	if err := l.DebitTick(ctx, "u1", "c1", 10, "INR", 1); !errors.Is(err, billing.ErrInsufficientBalance) {
		t.Fatalf("expected billing.ErrInsufficientBalance, got %v", err)
	}
	if err := l.DebitTick(ctx, "ghost", "c1", 10, "INR", 1); !errors.Is(err, billing.ErrTransient) {
		t.Fatalf("missing wallet must map to transient, got %v", err)
	}

	if err := l.DebitTick(ctx, "u1", "c1", 5, "INR", 2); err != nil {
		t.Fatalf("DebitTick: %v", err)
	}
	// A replayed tick posts nothing thanks to the deterministic key.
	if err := l.DebitTick(ctx, "u1", "c1", 5, "INR", 2); err != nil {
		t.Fatalf("replayed DebitTick: %v", err)
	}
	bal, err := l.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 0 {
		t.Fatalf("expected 0 after one charged second, got %d", bal)
	}

	if err := l.CreditTick(ctx, "a1", "c1", 5, "INR", 2); err != nil {
		t.Fatalf("CreditTick: %v", err)
	}
	if bal, _ := l.Balance(ctx, "a1"); bal != 5 {
		t.Fatalf("expected astrologer balance 5, got %d", bal)
	}

	// Unknown owners have no funds rather than erroring the whole tick path.
	if bal, err := l.Balance(ctx, "ghost"); err != nil || bal != 0 {
		t.Fatalf("ghost balance: %d err=%v", bal, err)
	}
}
