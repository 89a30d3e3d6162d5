package availability

import "context"

// Service implements the billing engine's presence port over a Store and
// exposes the read side for matching/listing surfaces.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) MarkBusy(ctx context.Context, astrologerID, callID string) error {
	_, err := s.store.Acquire(ctx, astrologerID, callID)
	return err
}

// Reserve attempts to claim the astrologer for a new call. false means they
// already hold a live call and the new one should queue behind it.
func (s *Service) Reserve(ctx context.Context, astrologerID, callID string) (bool, error) {
	return s.store.Acquire(ctx, astrologerID, callID)
}

func (s *Service) ReleaseBusy(ctx context.Context, astrologerID, callID string) error {
	return s.store.Release(ctx, astrologerID, callID)
}

func (s *Service) IsBusy(ctx context.Context, astrologerID string) (bool, error) {
	return s.store.Busy(ctx, astrologerID)
}
