package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "dealintel:lock:"

// ErrLockBusy means another holder kept the lock for the whole wait.
var ErrLockBusy = errors.New("lock busy")

// Locker grants short exclusive leases on a key. The returned release
// function is safe to call after the lease expired.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(context.Context), err error)
}

const lockPoll = 20 * time.Millisecond

// Only the token that set the key may delete it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context), error) {
	k := lockKeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) {
				_ = releaseScript.Run(ctx, l.client, []string{k}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}

// LocalLocker serializes holders within one process.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]string
	timer map[string]*time.Timer
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]string{}, timer: map[string]*time.Timer{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		if l.tryLock(key, token, ttl) {
			return func(context.Context) { l.unlock(key, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}

func (l *LocalLocker) tryLock(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = token
	l.timer[key] = time.AfterFunc(ttl, func() { l.unlock(key, token) })
	return true
}

func (l *LocalLocker) unlock(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return
	}
	delete(l.held, key)
	if t := l.timer[key]; t != nil {
		t.Stop()
		delete(l.timer, key)
	}
}
