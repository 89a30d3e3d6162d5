package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consult-platform/pkg/utils"
)

// PostgresStore persists call records in the `calls` table.
//
// Atomicity: every transition locks the row (SELECT ... FOR UPDATE) and
// applies the conditional update inside one transaction, so concurrent
// join/leave/media events and racing billing triggers serialize per call.
//
// Assumed schema:
//
//	CREATE TABLE calls (
//	  call_id TEXT PRIMARY KEY,
//	  user_id TEXT NOT NULL,
//	  astrologer_id TEXT NOT NULL,
//	  call_type TEXT NOT NULL,
//	  status TEXT NOT NULL,
//	  user_joined BOOLEAN NOT NULL DEFAULT FALSE,
//	  astrologer_joined BOOLEAN NOT NULL DEFAULT FALSE,
//	  audio_track_published BOOLEAN NOT NULL DEFAULT FALSE,
//	  billing_started BOOLEAN NOT NULL DEFAULT FALSE,
//	  billing_finalized BOOLEAN NOT NULL DEFAULT FALSE,
//	  rate_per_second_minor BIGINT NOT NULL DEFAULT 0,
//	  rate_per_minute_minor BIGINT NOT NULL DEFAULT 0,
//	  currency TEXT NOT NULL DEFAULT '',
//	  actual_duration_seconds INT NOT NULL DEFAULT 0,
//	  final_amount_minor BIGINT NOT NULL DEFAULT 0,
//	  astrologer_earning_minor BIGINT NOT NULL DEFAULT 0,
//	  end_reason TEXT NOT NULL DEFAULT '',
//	  derived_settlement BOOLEAN NOT NULL DEFAULT FALSE,
//	  billing_started_at TIMESTAMPTZ,
//	  end_time TIMESTAMPTZ,
//	  cancelled_at TIMESTAMPTZ,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const callColumns = `
call_id, user_id, astrologer_id, call_type, status,
user_joined, astrologer_joined, audio_track_published,
billing_started, billing_finalized,
rate_per_second_minor, rate_per_minute_minor, currency,
actual_duration_seconds, final_amount_minor, astrologer_earning_minor,
end_reason, derived_settlement,
billing_started_at, end_time, cancelled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var rec CallRecord
	var startedAt, endTime, cancelledAt sql.NullTime
	err := row.Scan(
		&rec.CallID,
		&rec.UserID,
		&rec.AstrologerID,
		&rec.CallType,
		&rec.Status,
		&rec.UserJoined,
		&rec.AstrologerJoined,
		&rec.AudioTrackPublished,
		&rec.BillingStarted,
		&rec.BillingFinalized,
		&rec.RatePerSecondMinor,
		&rec.RatePerMinuteMinor,
		&rec.Currency,
		&rec.ActualDurationSeconds,
		&rec.FinalAmountMinor,
		&rec.AstrologerEarningMinor,
		&rec.EndReason,
		&rec.DerivedSettlement,
		&startedAt,
		&endTime,
		&cancelledAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return CallRecord{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.BillingStartedAt = &t
	}
	if endTime.Valid {
		t := endTime.Time
		rec.EndTime = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		rec.CancelledAt = &t
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO calls (
  call_id, user_id, astrologer_id, call_type, status,
  user_joined, astrologer_joined, audio_track_published,
  billing_started, billing_finalized,
  rate_per_second_minor, rate_per_minute_minor, currency,
  actual_duration_seconds, final_amount_minor, astrologer_earning_minor,
  end_reason, derived_settlement, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q,
		rec.CallID, rec.UserID, rec.AstrologerID, rec.CallType, rec.Status,
		rec.UserJoined, rec.AstrologerJoined, rec.AudioTrackPublished,
		rec.BillingStarted, rec.BillingFinalized,
		rec.RatePerSecondMinor, rec.RatePerMinuteMinor, rec.Currency,
		rec.ActualDurationSeconds, rec.FinalAmountMinor, rec.AstrologerEarningMinor,
		rec.EndReason, rec.DerivedSettlement, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, callID string) (CallRecord, error) {
	rec, err := scanCall(s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

// lockCall loads the row FOR UPDATE inside tx, serializing concurrent
// transitions for the same call.
func lockCall(ctx context.Context, tx *sql.Tx, callID string) (CallRecord, error) {
	rec, err := scanCall(tx.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1 FOR UPDATE`, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) MarkJoined(ctx context.Context, callID string, p ParticipantType, now time.Time) (CallRecord, error) {
	if !ValidParticipant(p) {
		return CallRecord{}, ErrValidation
	}
	var out CallRecord
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if p == ParticipantUser {
			rec.UserJoined = true
		} else {
			rec.AstrologerJoined = true
		}
		if rec.UserJoined && rec.AstrologerJoined && canConnect(rec.Status) {
			rec.Status = StatusConnected
		}
		rec.UpdatedAt = now

		const q = `
UPDATE calls
SET user_joined = $2, astrologer_joined = $3, status = $4, updated_at = $5
WHERE call_id = $1
`
		if _, err := tx.ExecContext(ctx, q, callID, rec.UserJoined, rec.AstrologerJoined, rec.Status, now); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) MarkLeft(ctx context.Context, callID string, p ParticipantType, now time.Time) (CallRecord, error) {
	if !ValidParticipant(p) {
		return CallRecord{}, ErrValidation
	}
	var out CallRecord
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if p == ParticipantUser {
			rec.UserJoined = false
		} else {
			rec.AstrologerJoined = false
		}
		if canConnect(rec.Status) {
			rec.Status = StatusCancelled
			t := now
			rec.CancelledAt = &t
			rec.EndTime = &t
		}
		rec.UpdatedAt = now

		const q = `
UPDATE calls
SET user_joined = $2, astrologer_joined = $3, status = $4,
    cancelled_at = $5, end_time = $6, updated_at = $7
WHERE call_id = $1
`
		if _, err := tx.ExecContext(ctx, q, callID, rec.UserJoined, rec.AstrologerJoined, rec.Status,
			nullTime(rec.CancelledAt), nullTime(rec.EndTime), now); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) MarkAudioPublished(ctx context.Context, callID string, now time.Time) (CallRecord, error) {
	var out CallRecord
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if !rec.AudioTrackPublished {
			rec.AudioTrackPublished = true
			rec.UpdatedAt = now
			const q = `UPDATE calls SET audio_track_published = TRUE, updated_at = $2 WHERE call_id = $1`
			if _, err := tx.ExecContext(ctx, q, callID, now); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) BeginBilling(ctx context.Context, callID string, rate RateCard, now time.Time) (CallRecord, bool, error) {
	var out CallRecord
	var won bool
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if rec.BillingStarted {
			out = rec
			won = false
			return nil
		}
		rec.BillingStarted = true
		rec.RatePerSecondMinor = rate.PerSecondMinor
		rec.RatePerMinuteMinor = rate.PerMinuteMinor
		rec.Currency = rate.Currency
		t := now
		rec.BillingStartedAt = &t
		rec.UpdatedAt = now

		const q = `
UPDATE calls
SET billing_started = TRUE,
    rate_per_second_minor = $2, rate_per_minute_minor = $3, currency = $4,
    billing_started_at = $5, updated_at = $5
WHERE call_id = $1 AND billing_started = FALSE
`
		if _, err := tx.ExecContext(ctx, q, callID, rate.PerSecondMinor, rate.PerMinuteMinor, rate.Currency, now); err != nil {
			return err
		}
		out = rec
		won = true
		return nil
	})
	return out, won, err
}

func (s *PostgresStore) CommitFinal(ctx context.Context, callID string, fin FinalCommit) (CallRecord, bool, error) {
	var out CallRecord
	var won bool
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if rec.BillingFinalized {
			out = rec
			won = false
			return nil
		}
		rec.BillingFinalized = true
		rec.ActualDurationSeconds = fin.DurationSeconds
		rec.FinalAmountMinor = fin.AmountMinor
		rec.AstrologerEarningMinor = fin.EarningMinor
		rec.Status = fin.Status
		rec.EndReason = fin.Reason
		rec.DerivedSettlement = fin.Derived
		t := fin.At
		rec.EndTime = &t
		if fin.Status == StatusCancelled {
			rec.CancelledAt = &t
		}
		rec.UpdatedAt = fin.At

		const q = `
UPDATE calls
SET billing_finalized = TRUE,
    actual_duration_seconds = $2, final_amount_minor = $3, astrologer_earning_minor = $4,
    status = $5, end_reason = $6, derived_settlement = $7,
    end_time = $8, cancelled_at = $9, updated_at = $8
WHERE call_id = $1 AND billing_finalized = FALSE
`
		if _, err := tx.ExecContext(ctx, q, callID,
			fin.DurationSeconds, fin.AmountMinor, fin.EarningMinor,
			fin.Status, fin.Reason, fin.Derived,
			fin.At, nullTime(rec.CancelledAt)); err != nil {
			return err
		}
		out = rec
		won = true
		return nil
	})
	return out, won, err
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE status IN ('created','queued','pending') AND created_at < $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CancelStale(ctx context.Context, callID string, now time.Time) (bool, error) {
	const q = `
UPDATE calls
SET status = 'cancelled', cancelled_at = $2, end_time = $2, updated_at = $2
WHERE call_id = $1 AND status IN ('created','queued','pending')
`
	res, err := s.db.ExecContext(ctx, q, callID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
