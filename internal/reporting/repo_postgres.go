package reporting

import (
	"context"
	"database/sql"
	"time"

	"consult-platform/internal/billing"
	"consult-platform/internal/wallet"
)

// PostgresRepo reads reporting aggregates from the same tables the billing
// and wallet services write. Reads are plain snapshots; reporting tolerates
// in-flight calls looking slightly stale.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callSummaryColumns = `call_id, user_id, astrologer_id, call_type, status,
	billing_started, billing_finalized, currency,
	actual_duration_seconds, final_amount_minor, astrologer_earning_minor,
	created_at`

func (r *PostgresRepo) listCalls(ctx context.Context, where, owner string, from, to time.Time) ([]billing.CallRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callSummaryColumns+` FROM calls WHERE `+where+` = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at`,
		owner, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.CallRecord, 0)
	for rows.Next() {
		var c billing.CallRecord
		if err := rows.Scan(
			&c.CallID, &c.UserID, &c.AstrologerID, &c.CallType, &c.Status,
			&c.BillingStarted, &c.BillingFinalized, &c.Currency,
			&c.ActualDurationSeconds, &c.FinalAmountMinor, &c.AstrologerEarningMinor,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListUserCalls(ctx context.Context, userID string, from, to time.Time) ([]billing.CallRecord, error) {
	return r.listCalls(ctx, "user_id", userID, from, to)
}

func (r *PostgresRepo) ListAstrologerCalls(ctx context.Context, astrologerID string, from, to time.Time) ([]billing.CallRecord, error) {
	return r.listCalls(ctx, "astrologer_id", astrologerID, from, to)
}

func (r *PostgresRepo) ListWalletLedger(ctx context.Context, ownerID string, from, to time.Time) ([]wallet.WalletLedger, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT l.id, l.wallet_id, l.type, l.amount_minor, l.currency, l.external_ref, l.idempotency_key, l.created_at
		 FROM wallet_ledger l
		 JOIN wallets w ON w.id = l.wallet_id
		 WHERE w.owner_id = $1 AND l.created_at >= $2 AND l.created_at < $3
		 ORDER BY l.created_at`,
		ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]wallet.WalletLedger, 0)
	for rows.Next() {
		var l wallet.WalletLedger
		var ref sql.NullString
		if err := rows.Scan(&l.ID, &l.WalletID, &l.Type, &l.AmountMinor, &l.Currency, &ref, &l.IdempotencyKey, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.ExternalRef = ref.String
		out = append(out, l)
	}
	return out, rows.Err()
}
