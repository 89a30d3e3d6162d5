package pricing

import "time"

// Amounts are expressed in minor units (paise) using int64.

// RatePlan defines what one astrologer charges for one call type.
// Effective windows allow scheduled price changes without mutating history.
type RatePlan struct {
	ID           string `json:"id" db:"id"`
	AstrologerID string `json:"astrologer_id" db:"astrologer_id"`

	// CallType is voice or video.
	CallType string `json:"call_type" db:"call_type"`

	Currency string `json:"currency" db:"currency"`

	// BasePricePerMinuteMinor is the listed per-minute price.
	BasePricePerMinuteMinor int64 `json:"base_price_per_minute_minor" db:"base_price_per_minute_minor"`

	// DiscountPercent reduces the listed price, 0..100.
	DiscountPercent int `json:"discount_percent" db:"discount_percent"`

	// Effective window for the plan.
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PlanStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusInactive PlanStatus = "inactive"
)
