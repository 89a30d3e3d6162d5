package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records a privileged action such as a manual wallet credit.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, walletID, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		WalletID:    walletID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogBillingFinalized records the settlement of one call.
func (s *Service) LogBillingFinalized(ctx context.Context, callID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:     EventTypeBillingFinalized,
		CallID:   callID,
		Message:  message,
		Metadata: metadata,
	})
}

// LogCallSwept records the cancellation of a stale never-connected call.
func (s *Service) LogCallSwept(ctx context.Context, callID string) error {
	return s.Append(ctx, Event{
		Type:    EventTypeCallSwept,
		CallID:  callID,
		Message: "stale call cancelled by sweep",
	})
}
