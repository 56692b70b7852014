package distance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fielddispatch/internal/metrics"
	"fielddispatch/internal/model"
)

// Cache stores priced pairs by key.
type Cache interface {
	Get(ctx context.Context, key string) (minutes int, ok bool, err error)
	Set(ctx context.Context, key string, minutes int, ttl time.Duration) error
}

// CachedLookup memoizes another Lookup. Traffic-aware answers age out faster
// than static ones. Cache failures are logged and bypassed.
type CachedLookup struct {
	next       Lookup
	cache      Cache
	trafficTTL time.Duration
	staticTTL  time.Duration
	log        *zap.Logger
}

func NewCachedLookup(next Lookup, cache Cache, trafficTTL, staticTTL time.Duration, log *zap.Logger) *CachedLookup {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedLookup{next: next, cache: cache, trafficTTL: trafficTTL, staticTTL: staticTTL, log: log}
}

func (c *CachedLookup) Name() string { return c.next.Name() }

func (c *CachedLookup) Minutes(ctx context.Context, origin, dest model.GeoPoint, traffic bool) (int, error) {
	key := cacheKey(c.next.Name(), origin, dest, traffic)
	v, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Debug("distance cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		metrics.DistanceLookups.WithLabelValues("cache").Inc()
		return v, nil
	}
	v, err = c.next.Minutes(ctx, origin, dest, traffic)
	if err != nil {
		return 0, err
	}
	ttl := c.staticTTL
	if traffic {
		ttl = c.trafficTTL
	}
	if err := c.cache.Set(ctx, key, v, ttl); err != nil {
		c.log.Debug("distance cache set failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// cacheKey is direction-free because matrices are symmetric. Coordinates are
// rounded to 5 decimals (about one metre).
func cacheKey(service string, a, b model.GeoPoint, traffic bool) string {
	if a.Lat > b.Lat || (a.Lat == b.Lat && a.Lng > b.Lng) {
		a, b = b, a
	}
	mode := "static"
	if traffic {
		mode = "traffic"
	}
	return fmt.Sprintf("%s:%s:%.5f,%.5f->%.5f,%.5f", service, mode,
		roundCoord(a.Lat), roundCoord(a.Lng), roundCoord(b.Lat), roundCoord(b.Lng))
}

type memoryEntry struct {
	minutes int
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return 0, false, nil
	}
	return e.minutes, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, minutes int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{minutes: minutes}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// RedisCache shares priced pairs between processes.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "distance:"}
}

func (r *RedisCache) Get(ctx context.Context, key string) (int, bool, error) {
	s, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cache entry %q: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, minutes int, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, minutes, ttl).Err()
}
