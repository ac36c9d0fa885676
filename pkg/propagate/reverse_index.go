package propagate

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

// ReverseIndex maps a sharedId to the set of sharedIds referencing it.
type ReverseIndex interface {
	Add(ctx context.Context, target, referrer string) error
	Remove(ctx context.Context, target, referrer string) error
	Referrers(ctx context.Context, target string) ([]string, error)
	Clear(ctx context.Context) error
}

// MemoryIndex is an in-process ReverseIndex.
type MemoryIndex struct {
	mu        sync.RWMutex
	referrers map[string]map[string]bool
}

// NewMemoryIndex creates an empty in-process reverse index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{referrers: make(map[string]map[string]bool)}
}

// Add implements ReverseIndex.
func (m *MemoryIndex) Add(_ context.Context, target, referrer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.referrers[target] == nil {
		m.referrers[target] = make(map[string]bool)
	}
	m.referrers[target][referrer] = true
	return nil
}

// Remove implements ReverseIndex.
func (m *MemoryIndex) Remove(_ context.Context, target, referrer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.referrers[target], referrer)
	return nil
}

// Referrers implements ReverseIndex.
func (m *MemoryIndex) Referrers(_ context.Context, target string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.referrers[target]))
	for referrer := range m.referrers[target] {
		out = append(out, referrer)
	}
	return out, nil
}

// Clear implements ReverseIndex.
func (m *MemoryIndex) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrers = make(map[string]map[string]bool)
	return nil
}

// RedisIndex is a ReverseIndex backed by Redis sets, shared across
// processes. Keys are prefix + target sharedId.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex creates a Redis-backed reverse index.
func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "lattice:refs:"
	}
	return &RedisIndex{client: client, prefix: prefix}
}

// Add implements ReverseIndex.
func (r *RedisIndex) Add(ctx context.Context, target, referrer string) error {
	return r.client.SAdd(ctx, r.prefix+target, referrer).Err()
}

// Remove implements ReverseIndex.
func (r *RedisIndex) Remove(ctx context.Context, target, referrer string) error {
	return r.client.SRem(ctx, r.prefix+target, referrer).Err()
}

// Referrers implements ReverseIndex.
func (r *RedisIndex) Referrers(ctx context.Context, target string) ([]string, error) {
	return r.client.SMembers(ctx, r.prefix+target).Result()
}

// Clear implements ReverseIndex.
func (r *RedisIndex) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
