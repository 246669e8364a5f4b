package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Manager fronts the shared Redis cache with an in-process fallback.
// When Redis errors, a breaker suppresses further attempts for a short
// window so the hot path does not pay a connect timeout per request.
// Fallback state is per-instance and therefore weaker across a fleet;
// callers that need exact cross-instance semantics check Redis first via
// the Redis accessor and report failures back through ReportFailure.
type Manager struct {
	client *redis.Client
	prefix string
	nowFn  func() time.Time
	memory *Memory

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. A nil client disables Redis entirely.
func NewManager(client *redis.Client, prefix string, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		client: client,
		prefix: strings.TrimSpace(prefix),
		nowFn:  nowFn,
		memory: NewMemory(nowFn),
	}
}

// Key namespaces a cache key with the configured prefix.
func (m *Manager) Key(parts ...string) string {
	joined := strings.Join(parts, ":")
	if m == nil || m.prefix == "" {
		return joined
	}
	return m.prefix + ":" + joined
}

// Redis returns the client when configured and the breaker is not tripped.
func (m *Manager) Redis() (*redis.Client, bool) {
	if m == nil || m.client == nil {
		return nil, false
	}
	if m.isBreakerActive(m.nowFn()) {
		return nil, false
	}
	return m.client, true
}

// ReportFailure trips the breaker after a Redis error.
func (m *Manager) ReportFailure(err error) {
	if m == nil || err == nil {
		return
	}
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("cache: redis unavailable, falling back to memory")
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

// Get reads a key from Redis, falling back to the memory store.
func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	if client, ok := m.Redis(); ok {
		value, errGet := client.Get(ctx, key).Result()
		switch {
		case errGet == nil:
			return value, true, nil
		case errGet == redis.Nil:
			return "", false, nil
		default:
			m.ReportFailure(errGet)
		}
	}
	return m.memory.Get(ctx, key)
}

// SetEx writes a key with TTL to Redis, falling back to the memory store.
func (m *Manager) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if client, ok := m.Redis(); ok {
		if errSet := client.Set(ctx, key, value, ttl).Err(); errSet == nil {
			return nil
		} else {
			m.ReportFailure(errSet)
		}
	}
	return m.memory.SetEx(ctx, key, value, ttl)
}

// Del removes a key from Redis and the memory store.
func (m *Manager) Del(ctx context.Context, key string) error {
	if client, ok := m.Redis(); ok {
		if errDel := client.Del(ctx, key).Err(); errDel != nil {
			m.ReportFailure(errDel)
		}
	}
	return m.memory.Del(ctx, key)
}

// Ensure Manager implements Store.
var _ Store = (*Manager)(nil)
