package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consult-platform/pkg/utils"

	"github.com/google/uuid"
)

// Service provides wallet operations over Postgres.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations run in a DB transaction
//
// Balance strategy:
//   - Balance is stored in a projection table (wallet_balances) updated
//     atomically alongside ledger inserts.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type Balance struct {
	WalletID     string    `json:"wallet_id"`
	OwnerID      string    `json:"owner_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

type DebitRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

type AdminCreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Poster is the money-posting surface shared by the Postgres service and the
// in-memory implementation. Operations are keyed by owner: each principal
// holds exactly one wallet.
type Poster interface {
	GetBalance(ctx context.Context, ownerID string) (Balance, error)
	Credit(ctx context.Context, ownerID string, req CreditRequest) (WalletLedger, Balance, error)
	Debit(ctx context.Context, ownerID string, req DebitRequest) (WalletLedger, Balance, error)
}

// EnsureWallet creates the owner's wallet if it does not exist yet.
func (s *Service) EnsureWallet(ctx context.Context, ownerID string, ownerType OwnerType, currency string) (Wallet, error) {
	if ownerID == "" || currency == "" {
		return Wallet{}, ErrInvalidArgument
	}
	if ownerType != OwnerTypeUser && ownerType != OwnerTypeAstrologer {
		return Wallet{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var out Wallet
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := findWalletByOwner(ctx, tx, ownerID)
		if err == nil {
			out = w
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		w = Wallet{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			OwnerType: ownerType,
			Currency:  currency,
			Status:    WalletStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := insertWallet(ctx, tx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (s *Service) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	if ownerID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalanceByOwner(ctx, s.db, ownerID)
}

func (s *Service) Credit(ctx context.Context, ownerID string, req CreditRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger WalletLedger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if w.Currency != req.Currency {
			return ErrInvalidArgument
		}

		// Idempotency: an existing entry for this wallet+key means the
		// posting already happened; return it with the current balance.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, w.ID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, w)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := WalletLedger{
			ID:             ledgerID,
			WalletID:       w.ID,
			Type:           LedgerEntryTypeCredit,
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, w, req.AmountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

func (s *Service) Debit(ctx context.Context, ownerID string, req DebitRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger WalletLedger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if w.Currency != req.Currency {
			return ErrInvalidArgument
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, w.ID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, w)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		// Lock the projection row and check funds before posting.
		b, err := getBalanceForUpdate(ctx, tx, w)
		if err != nil {
			return err
		}
		if b.BalanceMinor < req.AmountMinor {
			return ErrInsufficientFunds
		}

		entry := WalletLedger{
			ID:             ledgerID,
			WalletID:       w.ID,
			Type:           LedgerEntryTypeDebit,
			AmountMinor:    -req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		out, err := applyBalanceDelta(ctx, tx, w, -req.AmountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = out
		return nil
	})

	return outLedger, outBal, err
}

func (s *Service) AdminManualCredit(ctx context.Context, ownerID, adminUserID, adminRole string, req AdminCreditRequest) (AdminWalletAction, WalletLedger, Balance, error) {
	if adminUserID == "" || adminRole == "" {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	if req.Reason == "" {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	if err := validateMoneyReq(ownerID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, err
	}

	now := s.clock().UTC()
	actionID := uuid.NewString()
	ledgerID := uuid.NewString()

	var outAction AdminWalletAction
	var outLedger WalletLedger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWalletByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if w.Currency != req.Currency {
			return ErrInvalidArgument
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, w.ID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			act, ok, err := findAdminActionByLedger(ctx, tx, w.ID, existing.ID)
			if err != nil {
				return err
			}
			if ok {
				outAction = act
			}
			b, err := getBalanceTx(ctx, tx, w)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := WalletLedger{
			ID:             ledgerID,
			WalletID:       w.ID,
			Type:           LedgerEntryTypeCredit,
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    "admin_manual_credit",
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, w, req.AmountMinor, now)
		if err != nil {
			return err
		}

		action := AdminWalletAction{
			ID:              actionID,
			WalletID:        w.ID,
			AdminUserID:     adminUserID,
			AdminRole:       adminRole,
			Action:          AdminWalletActionTypeAdjustBalance,
			Reason:          req.Reason,
			AmountMinor:     req.AmountMinor,
			Currency:        req.Currency,
			RelatedLedgerID: entry.ID,
			Metadata:        req.Metadata,
			CreatedAt:       now,
		}
		if err := insertAdminAction(ctx, tx, action); err != nil {
			return err
		}

		outAction = action
		outLedger = entry
		outBal = b
		return nil
	})

	return outAction, outLedger, outBal, err
}

// Statement returns the most recent ledger entries for the owner's wallet,
// newest first.
func (s *Service) Statement(ctx context.Context, ownerID string, limit int) ([]WalletLedger, error) {
	if ownerID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return listLedgerByOwner(ctx, s.db, ownerID, limit)
}

func validateMoneyReq(ownerID string, amountMinor int64, currency, idempotencyKey string) error {
	if ownerID == "" {
		return ErrInvalidArgument
	}
	if currency == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
