package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	keyPrefix    = "approve-bot:lock:"
	defaultTTL   = 30 * time.Second
	retryBackoff = 50 * time.Millisecond
)

var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis mutex keyed by purchase (user, plan).
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// Connect opens a client and checks it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Lock retries until the key is free or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() { l.release(fullKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", key, ErrNotAcquired)
		case <-time.After(retryBackoff):
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}
