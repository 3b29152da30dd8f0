package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/agentcore/core"
)

// GlobalPool holds knowledge shared across agents. Writes replace by id, so
// concurrent writers from different agents need no coordination.
type GlobalPool interface {
	Put(ctx context.Context, k core.Knowledge) error
	All(ctx context.Context) ([]core.Knowledge, error)
}

// InMemoryPool is a process-local GlobalPool.
type InMemoryPool struct {
	mu    sync.RWMutex
	items map[string]core.Knowledge
}

// NewInMemoryPool returns an empty pool.
func NewInMemoryPool() *InMemoryPool {
	return &InMemoryPool{items: make(map[string]core.Knowledge)}
}

func (p *InMemoryPool) Put(_ context.Context, k core.Knowledge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[k.ID] = k
	return nil
}

// All returns the pooled items oldest first.
func (p *InMemoryPool) All(_ context.Context) ([]core.Knowledge, error) {
	p.mu.RLock()
	out := make([]core.Knowledge, 0, len(p.items))
	for _, k := range p.items {
		out = append(out, k)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// DefaultRedisKey is the hash that RedisPool writes to.
const DefaultRedisKey = "agentcore:global_knowledge"

// RedisPool keeps the global pool in a Redis hash keyed by knowledge id, so
// several processes can share it. Content round-trips through JSON.
type RedisPool struct {
	rdb *redis.Client
	key string
}

// NewRedisPool wraps rdb. An empty key uses DefaultRedisKey.
func NewRedisPool(rdb *redis.Client, key string) *RedisPool {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPool{rdb: rdb, key: key}
}

func (p *RedisPool) Put(ctx context.Context, k core.Knowledge) error {
	b, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("encode knowledge %s: %w", k.ID, err)
	}
	return p.rdb.HSet(ctx, p.key, k.ID, b).Err()
}

func (p *RedisPool) All(ctx context.Context) ([]core.Knowledge, error) {
	raw, err := p.rdb.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read global pool: %w", err)
	}
	out := make([]core.Knowledge, 0, len(raw))
	for id, v := range raw {
		var k core.Knowledge
		if err := json.Unmarshal([]byte(v), &k); err != nil {
			return nil, fmt.Errorf("decode knowledge %s: %w", id, err)
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Clear removes the pool's hash.
func (p *RedisPool) Clear(ctx context.Context) error {
	return p.rdb.Del(ctx, p.key).Err()
}
