package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads rate plans from the rate_plans table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindPlan(ctx context.Context, astrologerID, callType string, at time.Time) (RatePlan, bool, error) {
	const q = `
SELECT id, astrologer_id, call_type, currency,
       base_price_per_minute_minor, discount_percent,
       effective_from, effective_to, status, created_at, updated_at
FROM rate_plans
WHERE astrologer_id = $1
  AND call_type = $2
  AND status = 'active'
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1
`
	var p RatePlan
	var effectiveTo sql.NullTime
	err := r.db.QueryRowContext(ctx, q, astrologerID, callType, at).Scan(
		&p.ID,
		&p.AstrologerID,
		&p.CallType,
		&p.Currency,
		&p.BasePricePerMinuteMinor,
		&p.DiscountPercent,
		&p.EffectiveFrom,
		&effectiveTo,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RatePlan{}, false, nil
		}
		return RatePlan{}, false, err
	}
	if effectiveTo.Valid {
		t := effectiveTo.Time
		p.EffectiveTo = &t
	}
	return p, true, nil
}
