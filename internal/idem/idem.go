// Package idem records idempotency keys so retried sends are not persisted twice.
package idem

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store claims a key once per ttl.
type Store interface {
	// PutNX returns true when the key was newly claimed.
	PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so a failed request can be retried with the same key.
	Release(ctx context.Context, key string) error
}

type redisStore struct{ r *redis.Client }

// NewRedis returns a Redis backed store.
func NewRedis(addr string) Store {
	return &redisStore{r: redis.NewClient(&redis.Options{Addr: addr, DB: 0})}
}

func (s *redisStore) PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.r.SetNX(ctx, "idem:"+key, "1", ttl).Result()
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	return s.r.Del(ctx, "idem:"+key).Err()
}

// Memory is a process local store used when Redis is not configured.
type Memory struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]time.Time), now: time.Now}
}

// PutNX claims key until ttl elapses.
func (m *Memory) PutNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)

	// 期限切れのキーを掃除
	if len(m.keys) > 10000 {
		for k, exp := range m.keys {
			if !now.Before(exp) {
				delete(m.keys, k)
			}
		}
	}
	return true, nil
}

// Release forgets key.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
