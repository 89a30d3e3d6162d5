package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Poster with the same invariants as the Postgres
// service: append-only ledger, idempotency-keyed postings, non-negative
// balances. Used by tests and local development.
type Memory struct {
	mu       sync.Mutex
	wallets  map[string]Wallet // by owner id
	balances map[string]int64  // by wallet id
	ledger   []WalletLedger
	byKey    map[string]WalletLedger // wallet_id + "\x00" + idempotency key
	clock    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		wallets:  make(map[string]Wallet),
		balances: make(map[string]int64),
		byKey:    make(map[string]WalletLedger),
		clock:    time.Now,
	}
}

// EnsureWallet creates the owner's wallet if missing.
func (m *Memory) EnsureWallet(_ context.Context, ownerID string, ownerType OwnerType, currency string) (Wallet, error) {
	if ownerID == "" || currency == "" {
		return Wallet{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[ownerID]; ok {
		return w, nil
	}
	now := m.clock().UTC()
	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		OwnerType: ownerType,
		Currency:  currency,
		Status:    WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.wallets[ownerID] = w
	return w, nil
}

func (m *Memory) GetBalance(_ context.Context, ownerID string) (Balance, error) {
	if ownerID == "" {
		return Balance{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[ownerID]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return Balance{
		WalletID:     w.ID,
		OwnerID:      w.OwnerID,
		Currency:     w.Currency,
		BalanceMinor: m.balances[w.ID],
		UpdatedAt:    w.UpdatedAt,
	}, nil
}

func (m *Memory) Credit(_ context.Context, ownerID string, req CreditRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[ownerID]
	if !ok {
		return WalletLedger{}, Balance{}, ErrNotFound
	}
	if w.Currency != req.Currency {
		return WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	if existing, ok := m.byKey[w.ID+"\x00"+req.IdempotencyKey]; ok {
		return existing, m.balanceLocked(w), nil
	}

	entry := WalletLedger{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Type:           LedgerEntryTypeCredit,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		CreatedAt:      m.clock().UTC(),
	}
	m.post(w, entry)
	return entry, m.balanceLocked(w), nil
}

func (m *Memory) Debit(_ context.Context, ownerID string, req DebitRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[ownerID]
	if !ok {
		return WalletLedger{}, Balance{}, ErrNotFound
	}
	if w.Currency != req.Currency {
		return WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	if existing, ok := m.byKey[w.ID+"\x00"+req.IdempotencyKey]; ok {
		return existing, m.balanceLocked(w), nil
	}
	if m.balances[w.ID] < req.AmountMinor {
		return WalletLedger{}, Balance{}, ErrInsufficientFunds
	}

	entry := WalletLedger{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Type:           LedgerEntryTypeDebit,
		AmountMinor:    -req.AmountMinor,
		Currency:       req.Currency,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		CreatedAt:      m.clock().UTC(),
	}
	m.post(w, entry)
	return entry, m.balanceLocked(w), nil
}

// Statement mirrors Service.Statement: newest entries first.
func (m *Memory) Statement(_ context.Context, ownerID string, limit int) ([]WalletLedger, error) {
	if ownerID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	var out []WalletLedger
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].WalletID == w.ID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

func (m *Memory) post(w Wallet, entry WalletLedger) {
	m.ledger = append(m.ledger, entry)
	m.byKey[w.ID+"\x00"+entry.IdempotencyKey] = entry
	m.balances[w.ID] += entry.AmountMinor
}

func (m *Memory) balanceLocked(w Wallet) Balance {
	return Balance{
		WalletID:     w.ID,
		OwnerID:      w.OwnerID,
		Currency:     w.Currency,
		BalanceMinor: m.balances[w.ID],
		UpdatedAt:    m.clock().UTC(),
	}
}
