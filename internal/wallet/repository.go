package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - wallets (UNIQUE owner_id)
// - wallet_ledger (immutable append-only, UNIQUE (wallet_id, idempotency_key))
// - wallet_balances (projection)
// - admin_wallet_actions

func findWalletByOwner(ctx context.Context, tx *sql.Tx, ownerID string) (Wallet, error) {
	const q = `
SELECT id, owner_id, owner_type, currency, status, created_at, updated_at
FROM wallets
WHERE owner_id = $1
`
	return scanWallet(tx.QueryRowContext(ctx, q, ownerID))
}

func lockWalletByOwner(ctx context.Context, tx *sql.Tx, ownerID string) (Wallet, error) {
	// Lock the wallet row to serialize concurrent money operations per owner.
	const q = `
SELECT id, owner_id, owner_type, currency, status, created_at, updated_at
FROM wallets
WHERE owner_id = $1
FOR UPDATE
`
	return scanWallet(tx.QueryRowContext(ctx, q, ownerID))
}

func scanWallet(row *sql.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.OwnerType,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func insertWallet(ctx context.Context, tx *sql.Tx, w Wallet) error {
	const q = `
INSERT INTO wallets (id, owner_id, owner_type, currency, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := tx.ExecContext(ctx, q,
		w.ID, w.OwnerID, w.OwnerType, w.Currency, w.Status, w.CreatedAt, w.UpdatedAt)
	return err
}

func getBalanceByOwner(ctx context.Context, db *sql.DB, ownerID string) (Balance, error) {
	const q = `
SELECT b.wallet_id, w.owner_id, b.currency, b.balance_minor, b.updated_at
FROM wallet_balances b
JOIN wallets w ON w.id = b.wallet_id
WHERE w.owner_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, ownerID).Scan(
		&b.WalletID,
		&b.OwnerID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, w Wallet) (Balance, error) {
	const q = `
SELECT wallet_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE wallet_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, w.ID).Scan(
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	b.OwnerID = w.OwnerID
	return b, nil
}

func getBalanceForUpdate(ctx context.Context, tx *sql.Tx, w Wallet) (Balance, error) {
	const q = `
SELECT wallet_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE wallet_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, w.ID).Scan(
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No projection row yet means nothing was ever credited.
			return Balance{WalletID: w.ID, OwnerID: w.OwnerID, Currency: w.Currency}, nil
		}
		return Balance{}, err
	}
	b.OwnerID = w.OwnerID
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, walletID, key string) (WalletLedger, bool, error) {
	const q = `
SELECT id, wallet_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE wallet_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e WalletLedger
	err := tx.QueryRowContext(ctx, q, walletID, key).Scan(
		&e.ID,
		&e.WalletID,
		&e.Type,
		&e.AmountMinor,
		&e.Currency,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WalletLedger{}, false, nil
		}
		return WalletLedger{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e WalletLedger) error {
	const q = `
INSERT INTO wallet_ledger (
  id, wallet_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.WalletID,
		e.Type,
		e.AmountMinor,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func listLedgerByOwner(ctx context.Context, db *sql.DB, ownerID string, limit int) ([]WalletLedger, error) {
	const q = `
SELECT l.id, l.wallet_id, l.type, l.amount_minor, l.currency, l.external_ref, l.idempotency_key, l.metadata, l.created_at
FROM wallet_ledger l
JOIN wallets w ON w.id = l.wallet_id
WHERE w.owner_id = $1
ORDER BY l.created_at DESC
LIMIT $2
`
	rows, err := db.QueryContext(ctx, q, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WalletLedger
	for rows.Next() {
		var e WalletLedger
		if err := rows.Scan(
			&e.ID,
			&e.WalletID,
			&e.Type,
			&e.AmountMinor,
			&e.Currency,
			&e.ExternalRef,
			&e.IdempotencyKey,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, w Wallet, deltaMinor int64, now time.Time) (Balance, error) {
	// Upsert the projection row. Currency stays stable; the wallet lock plus
	// the service-level currency check keep it consistent.
	const q = `
INSERT INTO wallet_balances (wallet_id, currency, balance_minor, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (wallet_id)
DO UPDATE SET balance_minor = wallet_balances.balance_minor + EXCLUDED.balance_minor,
              updated_at = EXCLUDED.updated_at
RETURNING wallet_id, currency, balance_minor, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, w.ID, w.Currency, deltaMinor, now).Scan(
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	b.OwnerID = w.OwnerID
	return b, nil
}

func insertAdminAction(ctx context.Context, tx *sql.Tx, a AdminWalletAction) error {
	const q = `
INSERT INTO admin_wallet_actions (
  id, wallet_id, admin_user_id, admin_role, action, reason,
  amount_minor, currency, related_ledger_id, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := tx.ExecContext(ctx, q,
		a.ID,
		a.WalletID,
		a.AdminUserID,
		a.AdminRole,
		a.Action,
		a.Reason,
		a.AmountMinor,
		a.Currency,
		a.RelatedLedgerID,
		a.Metadata,
		a.CreatedAt,
	)
	return err
}

func findAdminActionByLedger(ctx context.Context, tx *sql.Tx, walletID, ledgerID string) (AdminWalletAction, bool, error) {
	const q = `
SELECT id, wallet_id, admin_user_id, admin_role, action, reason,
       amount_minor, currency, related_ledger_id, metadata, created_at
FROM admin_wallet_actions
WHERE wallet_id = $1 AND related_ledger_id = $2
LIMIT 1
`
	var a AdminWalletAction
	err := tx.QueryRowContext(ctx, q, walletID, ledgerID).Scan(
		&a.ID,
		&a.WalletID,
		&a.AdminUserID,
		&a.AdminRole,
		&a.Action,
		&a.Reason,
		&a.AmountMinor,
		&a.Currency,
		&a.RelatedLedgerID,
		&a.Metadata,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdminWalletAction{}, false, nil
		}
		return AdminWalletAction{}, false, err
	}
	return a, true, nil
}
