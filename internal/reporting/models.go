package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one user.

type CallsSummaryRequest struct {
	UserID   string    `json:"user_id"`
	Range    TimeRange `json:"range"`
	CallType string    `json:"call_type,omitempty"`
}

type CallsSummary struct {
	UserID   string `json:"user_id"`
	CallType string `json:"call_type,omitempty"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	ConnectedCalls int `json:"connected_calls"`
	BilledCalls    int `json:"billed_calls"`

	TotalBilledSeconds   int `json:"total_billed_seconds"`
	AverageBilledSeconds int `json:"average_billed_seconds"`

	TotalChargedMinor int64  `json:"total_charged_minor"`
	Currency          string `json:"currency,omitempty"`
}

// SpendSummaryRequest requests aggregated wallet movement for one owner.
// Spend is derived from immutable wallet ledger entries.

type SpendSummaryRequest struct {
	OwnerID  string    `json:"owner_id"`
	Range    TimeRange `json:"range"`
	Currency string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	CallDebitMinor   int64 `json:"call_debit_minor"`
	AdminAdjustMinor int64 `json:"admin_adjust_minor"`
}

// EarningsSummaryRequest requests aggregated earnings for one astrologer.

type EarningsSummaryRequest struct {
	AstrologerID string    `json:"astrologer_id"`
	Range        TimeRange `json:"range"`
}

type EarningsSummary struct {
	AstrologerID string `json:"astrologer_id"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	CancelledCalls int `json:"cancelled_calls"`

	TotalBilledSeconds int    `json:"total_billed_seconds"`
	TotalEarningsMinor int64  `json:"total_earnings_minor"`
	Currency           string `json:"currency,omitempty"`
}
