package billing

import "time"

// CallRecord is the durable record of one consultation attempt.
//
// Flag invariants:
//   - userJoined/astrologerJoined/audioTrackPublished move false->true only
//     (a leave clears the joined flag, but audio publication never regresses).
//   - billingStarted and billingFinalized each flip false->true exactly once,
//     guarded by conditional store updates.
//   - billingFinalized=true implies actualDurationSeconds and finalAmountMinor
//     are committed and never change again.
//
// Money is in minor units (paise).
type CallRecord struct {
	CallID       string   `json:"call_id" db:"call_id"`
	UserID       string   `json:"user_id" db:"user_id"`
	AstrologerID string   `json:"astrologer_id" db:"astrologer_id"`
	CallType     CallType `json:"call_type" db:"call_type"`

	Status CallStatus `json:"status" db:"status"`

	UserJoined          bool `json:"user_joined" db:"user_joined"`
	AstrologerJoined    bool `json:"astrologer_joined" db:"astrologer_joined"`
	AudioTrackPublished bool `json:"audio_track_published" db:"audio_track_published"`

	BillingStarted   bool `json:"billing_started" db:"billing_started"`
	BillingFinalized bool `json:"billing_finalized" db:"billing_finalized"`

	// Rates are resolved once at billing start and immutable thereafter.
	RatePerSecondMinor int64  `json:"rate_per_second_minor" db:"rate_per_second_minor"`
	RatePerMinuteMinor int64  `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	Currency           string `json:"currency,omitempty" db:"currency"`

	// Settlement outcome, written once at finalize.
	ActualDurationSeconds  int    `json:"actual_duration_seconds" db:"actual_duration_seconds"`
	FinalAmountMinor       int64  `json:"final_amount_minor" db:"final_amount_minor"`
	AstrologerEarningMinor int64  `json:"astrologer_earning_minor" db:"astrologer_earning_minor"`
	EndReason              string `json:"end_reason,omitempty" db:"end_reason"`

	// DerivedSettlement marks a finalize that had no live ticker and derived
	// the duration from timestamps instead of metering it.
	DerivedSettlement bool `json:"derived_settlement" db:"derived_settlement"`

	BillingStartedAt *time.Time `json:"billing_started_at,omitempty" db:"billing_started_at"`
	EndTime          *time.Time `json:"end_time,omitempty" db:"end_time"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	StatusCreated   CallStatus = "created"
	StatusQueued    CallStatus = "queued"
	StatusPending   CallStatus = "pending"
	StatusConnected CallStatus = "connected"
	StatusCompleted CallStatus = "completed"
	StatusCancelled CallStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s CallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func ValidCallType(t CallType) bool { return t == CallTypeVoice || t == CallTypeVideo }

type ParticipantType string

const (
	ParticipantUser       ParticipantType = "user"
	ParticipantAstrologer ParticipantType = "astrologer"
)

func ValidParticipant(p ParticipantType) bool {
	return p == ParticipantUser || p == ParticipantAstrologer
}

// StartBlockReason explains why CanStartBilling returned false.
type StartBlockReason string

const (
	BlockNone              StartBlockReason = ""
	BlockNotBothJoined     StartBlockReason = "not_both_joined"
	BlockAudioNotPublished StartBlockReason = "audio_not_published"
	BlockWrongStatus       StartBlockReason = "wrong_status"
	BlockAlreadyStarted    StartBlockReason = "already_started"
)

// Termination reason codes observed by clients.
const (
	ReasonParticipantLeft     = "participant_left"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonManualEnd           = "manual_end"
	ReasonTimeout             = "timeout"
	ReasonCancelled           = "cancelled"
	ReasonCallEnded           = "call_ended"
)

// RateCard is the resolved price for one call.
type RateCard struct {
	PerSecondMinor int64  `json:"per_second_minor"`
	PerMinuteMinor int64  `json:"per_minute_minor"`
	Currency       string `json:"currency"`
}

// TickerSnapshot is a point-in-time view of a live in-process ticker.
// Ephemeral: it does not survive the process, and its absence does not imply
// billing never started.
type TickerSnapshot struct {
	CallID             string    `json:"call_id"`
	StartedAt          time.Time `json:"started_at"`
	DurationSeconds    int       `json:"duration_seconds"`
	TotalDeductedMinor int64     `json:"total_deducted_minor"`
	TotalEarningMinor  int64     `json:"total_earning_minor"`
	RatePerSecondMinor int64     `json:"rate_per_second_minor"`
}

// JoinResult reports a participant-join transition. ShouldCheckBilling is a
// hint, not a guarantee: the audio-publish event may already have arrived out
// of order, so the caller should re-evaluate CanStartBilling.
type JoinResult struct {
	BothJoined         bool       `json:"both_joined"`
	Status             CallStatus `json:"status"`
	ShouldCheckBilling bool       `json:"should_check_billing"`
}

// LeaveResult reports a participant-leave transition. ShouldFinalize tells
// the caller to trigger FinalizeBilling; the state machine itself never
// settles money.
type LeaveResult struct {
	Status         CallStatus `json:"status"`
	ShouldFinalize bool       `json:"should_finalize"`
}

// Eligibility is the outcome of the CanStartBilling predicate.
type Eligibility struct {
	CanStart bool             `json:"can_start"`
	Reason   StartBlockReason `json:"reason,omitempty"`
	Call     CallRecord       `json:"call"`
}

// StartResult is the outcome of StartBilling. AlreadyStarted is returned on
// every redundant invocation, with the rates recorded by the winner.
type StartResult struct {
	AlreadyStarted bool     `json:"already_started"`
	Rate           RateCard `json:"rate"`
}

// FinalizeResult is the settled outcome. Repeated finalizations return the
// previously committed values unchanged.
type FinalizeResult struct {
	AlreadyFinalized       bool       `json:"already_finalized"`
	Status                 CallStatus `json:"status"`
	Reason                 string     `json:"reason"`
	ActualDurationSeconds  int        `json:"actual_duration_seconds"`
	FinalAmountMinor       int64      `json:"final_amount_minor"`
	AstrologerEarningMinor int64      `json:"astrologer_earning_minor"`
	Derived                bool       `json:"derived"`
}

// Diagnosis is the read-only troubleshooting view over one call.
type Diagnosis struct {
	Call            CallRecord       `json:"call"`
	CanStartBilling bool             `json:"can_start_billing"`
	BlockReason     StartBlockReason `json:"block_reason,omitempty"`
	TickerRunning   bool             `json:"ticker_running"`
	Ticker          *TickerSnapshot  `json:"ticker,omitempty"`
	TickerLost      bool             `json:"ticker_lost"`
	Recommendations []string         `json:"recommendations"`
}
