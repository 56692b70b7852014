package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// extendScript resets the expiry only if this holder still owns the lock.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker serializes runs across processes sharing one Redis. The holder
// extends the lock every ttl/3 until unlock, so a long run keeps it while a
// crashed holder loses it after ttl.
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	retry  time.Duration
	renew  time.Duration
	prefix string
	log    *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: 100 * time.Millisecond, renew: ttl / 3,
		prefix: "lock:optimize:", log: log}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	t := time.NewTicker(l.retry)
	defer t.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	done := make(chan struct{})
	go l.keepAlive(k, token, done)
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.rdb, []string{k}, token).Err()
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, done <-chan struct{}) {
	if l.renew <= 0 {
		return
	}
	t := time.NewTicker(l.renew)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renew)
			n, err := extendScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn("lock extend failed", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				l.log.Warn("lock lost before unlock", zap.String("key", key))
				return
			}
		}
	}
}
