package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecommendedEventsDismissed remembers when a student closed the recommended
// events panel.
const RecommendedEventsDismissed = "recommended_events_dismissed_at"

// retention bounds how long a dismissal is remembered.
const retention = 30 * 24 * time.Hour

// Store keeps per-user dismissal timestamps.
type Store interface {
	Dismiss(ctx context.Context, sub, name string, at time.Time) error
	DismissedAt(ctx context.Context, sub, name string) (time.Time, bool, error)
}

// Snoozed reports whether name was dismissed by sub less than window ago.
func Snoozed(ctx context.Context, s Store, sub, name string, window time.Duration, now time.Time) (bool, error) {
	at, ok, err := s.DismissedAt(ctx, sub, name)
	if err != nil || !ok {
		return false, err
	}
	return now.Sub(at) < window, nil
}

func key(sub, name string) string { return "prefs:" + sub + ":" + name }

// RedisStore keeps timestamps as unix seconds under prefs:{sub}:{name}.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(c *redis.Client) *RedisStore { return &RedisStore{client: c} }

func (r *RedisStore) Dismiss(ctx context.Context, sub, name string, at time.Time) error {
	if err := r.client.Set(ctx, key(sub, name), at.Unix(), retention).Err(); err != nil {
		return fmt.Errorf("save preference %s: %w", name, err)
	}
	return nil
}

func (r *RedisStore) DismissedAt(ctx context.Context, sub, name string) (time.Time, bool, error) {
	v, err := r.client.Get(ctx, key(sub, name)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load preference %s: %w", name, err)
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// unreadable values count as never dismissed
		return time.Time{}, false, nil
	}
	return time.Unix(secs, 0), true, nil
}

// MemoryStore is used when no Redis is configured.
type MemoryStore struct {
	m sync.Map // key -> time.Time
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Dismiss(_ context.Context, sub, name string, at time.Time) error {
	m.m.Store(key(sub, name), at)
	return nil
}

func (m *MemoryStore) DismissedAt(_ context.Context, sub, name string) (time.Time, bool, error) {
	v, ok := m.m.Load(key(sub, name))
	if !ok {
		return time.Time{}, false, nil
	}
	return v.(time.Time), true, nil
}
