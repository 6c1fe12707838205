package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"revguard/internal/constants"
	"revguard/pkg/retry"
)

// Locker serialises mutations of a single workflow. Lock blocks until the
// key is held or ctx ends and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

var ErrLockNotAcquired = errors.New("workflow lock not acquired")

// LocalLocker is a keyed mutex for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds a token-guarded SET NX key per workflow so several
// service instances can share one store.
type RedisLocker struct {
	client      redis.UniversalClient
	ttl         time.Duration
	waitTimeout time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl, waitTimeout time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, waitTimeout: waitTimeout}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := constants.CacheKeyPrefixLock + key
	token := uuid.New().String()

	policy := retry.Policy{
		MaxAttempts:     100,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
		Multiplier:      1.5,
		MaxElapsedTime:  l.waitTimeout,
	}
	err := retry.Retry(ctx, policy, func() error {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return retry.NewFatalError(err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The lock may already have lapsed; the script only deletes our token.
			_ = unlockScript.Run(context.Background(), l.client, []string{redisKey}, token).Err()
		})
	}, nil
}
