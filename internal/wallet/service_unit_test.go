package wallet

import (
	"context"
	"database/sql"
	"testing"
)

// These are true unit tests for wallet.Service input validation behavior.
//
// The money operations (Credit/Debit/AdminManualCredit) are implemented with
// Postgres-specific SQL (notably SELECT ... FOR UPDATE), so end-to-end
// behavior (balance changes, insufficient funds, ledger/admin action inserts)
// is covered by the Memory implementation tests and by integration tests
// against Postgres.

func TestWalletService_Credit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Credit(context.Background(), "", CreditRequest{AmountMinor: 100, Currency: "INR", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u1", CreditRequest{AmountMinor: 0, Currency: "INR", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u1", CreditRequest{AmountMinor: 100, Currency: "", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u1", CreditRequest{AmountMinor: 100, Currency: "INR", IdempotencyKey: ""})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_Debit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Debit(context.Background(), "", DebitRequest{AmountMinor: 100, Currency: "INR", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Debit(context.Background(), "u1", DebitRequest{AmountMinor: -1, Currency: "INR", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_AdminManualCredit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, _, err := svc.AdminManualCredit(context.Background(), "u1", "", "admin", AdminCreditRequest{
		AmountMinor: 100, Currency: "INR", Reason: "refund", IdempotencyKey: "k",
	})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (missing admin user), got %v", err)
	}

	_, _, _, err = svc.AdminManualCredit(context.Background(), "u1", "adm", "admin", AdminCreditRequest{
		AmountMinor: 100, Currency: "INR", Reason: "", IdempotencyKey: "k",
	})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (missing reason), got %v", err)
	}
}

func TestValidateMoneyReq(t *testing.T) {
	if err := validateMoneyReq("u1", 1, "INR", "k"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := validateMoneyReq("", 1, "INR", "k"); err == nil {
		t.Fatalf("expected error")
	}
	if err := validateMoneyReq("u1", -5, "INR", "k"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}
