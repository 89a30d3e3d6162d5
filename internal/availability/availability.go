// Package availability tracks which astrologers are occupied by a live call.
// An astrologer serves one consultation at a time; the busy marker is what
// keeps the matching surface from queueing a second caller onto them.
//
// The marker is advisory: billing correctness never depends on it, and a
// crashed process leaks at most one TTL-bounded key.
package availability

import (
	"context"
	"sync"
	"time"

	"consult-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Store is the busy-marker backend.
type Store interface {
	// Acquire marks the astrologer busy with the given call. false when
	// they are already occupied by another call.
	Acquire(ctx context.Context, astrologerID, callID string) (bool, error)

	// Release clears the marker, but only when callID is the call that
	// holds it. Releasing an already-free astrologer, or releasing on
	// behalf of a call that never held the marker, is a no-op.
	Release(ctx context.Context, astrologerID, callID string) error

	// Busy reports whether the astrologer currently holds a live call.
	Busy(ctx context.Context, astrologerID string) (bool, error)
}

// RedisStore backs the marker with a call-scoped lease: the key holds the
// occupying call id, so only that call can free it, and the TTL bounds how
// long a crash can hold an astrologer hostage.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func busyKey(astrologerID string) string {
	return "astrologer:busy:" + astrologerID
}

func (s *RedisStore) Acquire(ctx context.Context, astrologerID, callID string) (bool, error) {
	return utils.AcquireLease(ctx, s.rdb, busyKey(astrologerID), callID, s.ttl)
}

func (s *RedisStore) Release(ctx context.Context, astrologerID, callID string) error {
	return utils.ReleaseLease(ctx, s.rdb, busyKey(astrologerID), callID)
}

func (s *RedisStore) Busy(ctx context.Context, astrologerID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, busyKey(astrologerID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryStore is the in-process equivalent for tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	busy map[string]string // astrologer id -> call id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{busy: make(map[string]string)}
}

func (s *MemoryStore) Acquire(_ context.Context, astrologerID, callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.busy[astrologerID]; ok && held != callID {
		return false, nil
	}
	s.busy[astrologerID] = callID
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, astrologerID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.busy[astrologerID]; ok && held == callID {
		delete(s.busy, astrologerID)
	}
	return nil
}

func (s *MemoryStore) Busy(_ context.Context, astrologerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[astrologerID]
	return ok, nil
}
