package wallet

import "time"

// Wallet is a prepaid money account owned by one platform principal: a user
// funds calls from theirs, an astrologer accumulates earnings in theirs.
// Invariant: the balance is derived from immutable ledger entries. No code
// may mutate a balance without writing a corresponding ledger entry.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	OwnerType OwnerType `json:"owner_type" db:"owner_type"`
	Currency  string    `json:"currency" db:"currency"`

	Status WalletStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type OwnerType string

const (
	OwnerTypeUser       OwnerType = "user"
	OwnerTypeAstrologer OwnerType = "astrologer"
)

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

// WalletLedger is an immutable append-only entry. Each row is one credit or
// debit posted to the wallet; per-second call charges land here one entry
// per metered second.
type WalletLedger struct {
	ID       string `json:"id" db:"id"`
	WalletID string `json:"wallet_id" db:"wallet_id"`

	Type LedgerEntryType `json:"type" db:"type"`

	// AmountMinor is signed: credits positive, debits negative.
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// ExternalRef links the entry to its origin, typically a call_id.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey makes money postings safe to retry. Call charges use a
	// deterministic key per (call, second) so a replayed tick is a no-op.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit" // top-up, earning, adjustment
	LedgerEntryTypeDebit  LedgerEntryType = "debit"  // call charge, fee
)

// AdminWalletAction records privileged manual actions for auditability. It is
// not the ledger itself: any admin money mutation must also create a
// WalletLedger entry.
type AdminWalletAction struct {
	ID       string `json:"id" db:"id"`
	WalletID string `json:"wallet_id" db:"wallet_id"`

	AdminUserID string `json:"admin_user_id" db:"admin_user_id"`
	AdminRole   string `json:"admin_role" db:"admin_role"`

	Action AdminWalletActionType `json:"action" db:"action"`
	Reason string                `json:"reason,omitempty" db:"reason"`

	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// RelatedLedgerID links to the ledger entry created by the action.
	RelatedLedgerID string `json:"related_ledger_id,omitempty" db:"related_ledger_id"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AdminWalletActionType string

const (
	AdminWalletActionTypeAdjustBalance AdminWalletActionType = "adjust_balance"
	AdminWalletActionTypeFreeze        AdminWalletActionType = "freeze"
	AdminWalletActionTypeUnfreeze      AdminWalletActionType = "unfreeze"
)
