// Package geocache keeps recent geo-location answers so repeated lookups of
// the same address skip the provider chain.
package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"warden/internal/resolver/models"
)

const keyPrefix = "warden:geo:"

// Cache stores GeoInfo by address. Get reports a miss with ok=false and a nil
// error.
type Cache interface {
	Get(ctx context.Context, addr netip.Addr) (models.GeoInfo, bool, error)
	Set(ctx context.Context, info models.GeoInfo, ttl time.Duration) error
}

// Redis stores JSON-encoded entries with a server-side TTL.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, addr netip.Addr) (models.GeoInfo, bool, error) {
	raw, err := r.client.Get(ctx, keyPrefix+addr.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.GeoInfo{}, false, nil
	}
	if err != nil {
		return models.GeoInfo{}, false, fmt.Errorf("get geo entry: %w", err)
	}
	var info models.GeoInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return models.GeoInfo{}, false, fmt.Errorf("decode geo entry: %w", err)
	}
	return info, true, nil
}

func (r *Redis) Set(ctx context.Context, info models.GeoInfo, ttl time.Duration) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode geo entry: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+info.Address.String(), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set geo entry: %w", err)
	}
	return nil
}

// Memory is a process-local TTL cache.
type Memory struct {
	mu    sync.Mutex
	items map[netip.Addr]memItem
	now   func() time.Time
}

type memItem struct {
	info      models.GeoInfo
	expiresAt time.Time
}

type MemoryOption func(*Memory)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{items: make(map[netip.Addr]memItem), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, addr netip.Addr) (models.GeoInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[addr]
	if !ok {
		return models.GeoInfo{}, false, nil
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, addr)
		return models.GeoInfo{}, false, nil
	}
	return item.info, true, nil
}

func (m *Memory) Set(_ context.Context, info models.GeoInfo, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.items {
		if !now.Before(v.expiresAt) {
			delete(m.items, k)
		}
	}
	m.items[info.Address] = memItem{info: info, expiresAt: now.Add(ttl)}
	return nil
}

// New returns a Redis cache when a client is configured, else Memory.
func New(client *redis.Client) Cache {
	if client != nil {
		return &Redis{client: client}
	}
	return NewMemory()
}
