package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker remembers signed-out token IDs until they would have expired.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// MemRevoker is a process-local Revoker.
type MemRevoker struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemRevoker returns an empty MemRevoker.
func NewMemRevoker() *MemRevoker {
	return &MemRevoker{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemRevoker) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, id)
		}
	}
	m.entries[tokenID] = now.Add(ttl)
	return nil
}

func (m *MemRevoker) Revoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[tokenID]
	return ok && !m.now().After(exp), nil
}

// RedisRevoker stores revocations as expiring keys so every API process
// shares them.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisRevoker returns a Revoker keyed under "<prefix>:revoked:".
func NewRedisRevoker(client *redis.Client, prefix string) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: prefix + ":revoked:"}
}

func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevoker) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("auth: check revocation: %w", err)
	}
	return n > 0, nil
}
