package kv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisLockPollInterval = 25 * time.Millisecond

var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var redisRenewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore keeps values as plain Redis strings under a prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

// Get loads the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, buildRedisKey(s.prefix, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", key, err)
	}
	return value, nil
}

// Set stores value without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, buildRedisKey(s.prefix, key), value, 0).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, buildRedisKey(s.prefix, key)).Err(); err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

// RedisLocker implements Locker with SET NX PX leases, so several processes
// sharing one store serialize on the same group. The lease is renewed every
// ttl/3 while the lock is held.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker constructs a RedisLocker whose leases expire after ttl.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, prefix: strings.TrimSpace(prefix), ttl: ttl}
}

// Lock polls until the lease is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := buildRedisKey(l.prefix, key)
	token := uuid.NewString()

	ticker := time.NewTicker(redisLockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, unavailable("lock", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	interval := l.ttl / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, interval, key, func() (bool, error) {
			ctxRenew, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			n, err := redisRenewScript.Run(ctxRenew, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			return n == 1, err
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctxRelease, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if errRelease := redisUnlockScript.Run(ctxRelease, l.client, []string{redisKey}, token).Err(); errRelease != nil {
				log.WithError(errRelease).WithField("key", key).Warn("kv redis: release lock failed")
			}
		})
	}, nil
}

// keepAlive calls renew every interval until stop is closed or the lease is lost.
func keepAlive(stop <-chan struct{}, interval time.Duration, key string, renew func() (bool, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		held, err := renew()
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("kv redis: renew lock failed")
			continue
		}
		if !held {
			log.WithField("key", key).Error("kv redis: lock lease lost while held")
			return
		}
	}
}

func buildRedisKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
