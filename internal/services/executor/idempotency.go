package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/adapters/redis"
)

// IdempotencyStore remembers which proposals were already applied, so a
// replayed or duplicated adjustment.proposed event cannot act twice.
type IdempotencyStore interface {
	// Claim marks a proposal as being applied. Returns false when the
	// proposal was already claimed.
	Claim(ctx context.Context, proposalID uuid.UUID) (bool, error)

	// Release frees a claim after a terminal failure, letting a future
	// proposal with the same ID (journal replay) be retried deliberately.
	Release(ctx context.Context, proposalID uuid.UUID) error
}

// RedisIdempotencyStore backs claims with SETNX so restarts and multiple
// instances share one view of what has been applied.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) key(id uuid.UUID) string {
	return "proposal:applied:" + id.String()
}

// Claim marks the proposal via SETNX
func (s *RedisIdempotencyStore) Claim(ctx context.Context, proposalID uuid.UUID) (bool, error) {
	return s.client.SetNX(ctx, s.key(proposalID), time.Now().UTC(), s.ttl)
}

// Release deletes the claim
func (s *RedisIdempotencyStore) Release(ctx context.Context, proposalID uuid.UUID) error {
	return s.client.Delete(ctx, s.key(proposalID))
}

// MemoryIdempotencyStore is the in-process fallback used in tests and when
// Redis is not configured.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	claimed map[uuid.UUID]struct{}
}

// NewMemoryIdempotencyStore creates an in-memory idempotency store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{claimed: make(map[uuid.UUID]struct{})}
}

// Claim marks the proposal in the local map
func (s *MemoryIdempotencyStore) Claim(ctx context.Context, proposalID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[proposalID]; ok {
		return false, nil
	}
	s.claimed[proposalID] = struct{}{}
	return true, nil
}

// Release frees the claim
func (s *MemoryIdempotencyStore) Release(ctx context.Context, proposalID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, proposalID)
	return nil
}
