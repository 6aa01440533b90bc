// Package creds persists the captured-header map. The worker can be torn
// down between any two messages, so the map lives in durable storage and is
// re-read on demand rather than trusted in memory.
package creds

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Header names whose values authenticate upstream calls.
const (
	HeaderAuthorization = "Authorization"
	HeaderDeviceID      = "Oai-Device-Id"
	HeaderLanguage      = "Oai-Language"
)

// Store is the durable captured-header map. Merge is monotonic: same-named
// values overwrite, unrelated values persist. Merges are commutative and
// idempotent per key, so interleaved writers need no coordination beyond the
// store itself.
type Store interface {
	Merge(ctx context.Context, headers map[string]string) error
	Load(ctx context.Context) (map[string]string, error)
}

// Memory is the non-durable fallback used when no redis is configured, and
// in tests.
type Memory struct {
	mu      sync.Mutex
	headers map[string]string
}

func NewMemory() *Memory {
	return &Memory{headers: make(map[string]string)}
}

func (m *Memory) Merge(ctx context.Context, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range headers {
		if v != "" {
			m.headers[k] = v
		}
	}
	return nil
}

func (m *Memory) Load(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out, nil
}

const redisKey = "chatrelay:captured_headers"

// Redis stores the map as a hash so merges are single commands.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Merge(ctx context.Context, headers map[string]string) error {
	fields := make([]any, 0, len(headers)*2)
	for k, v := range headers {
		if v != "" {
			fields = append(fields, k, v)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	if err := r.rdb.HSet(ctx, redisKey, fields...).Err(); err != nil {
		return fmt.Errorf("persist captured headers: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (map[string]string, error) {
	headers, err := r.rdb.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load captured headers: %w", err)
	}
	return headers, nil
}
