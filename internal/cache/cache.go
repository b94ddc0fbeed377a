package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store caches JSON-encodable lookup results
type Store interface {
	// Get decodes the value under key into out and reports whether it was present
	Get(ctx context.Context, key string, out any) (bool, error)
	// Set stores v under key. A zero ttl never expires
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Close() error
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	payload []byte
	expires time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !item.expires.IsZero() && m.now().After(item.expires) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(item.payload, out); err != nil {
		return false, fmt.Errorf("cache: failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: failed to encode %s: %w", key, err)
	}
	item := memoryItem{payload: payload}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// RedisStore is a Store backed by Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and pings it
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: failed to connect to redis at %s: %w", opts.Addr, err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client, prefix: opts.Prefix}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string, out any) (bool, error) {
	payload, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("cache: failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: failed to encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
