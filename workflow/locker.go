package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockNotObtained is returned when any requested key is already held.
var ErrLockNotObtained = errors.New("entity lock not obtained")

// Locker grants exclusive ownership of a set of entity keys. TryLock never
// waits for a held key; the loser of a race gets ErrLockNotObtained.
type Locker interface {
	TryLock(ctx context.Context, keys ...string) (release func(), err error)
}

func lockKey(kind, id string) string {
	return "freight:lock:" + kind + ":" + id
}

// MemoryLocker is the in-process Locker used when Redis is not configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(ctx context.Context, keys ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys = uniqueKeys(keys)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if _, ok := l.held[k]; ok {
			return nil, ErrLockNotObtained
		}
	}
	for _, k := range keys {
		l.held[k] = struct{}{}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for _, k := range keys {
				delete(l.held, k)
			}
		})
	}, nil
}

// RedisLocker holds one redislock per key so the critical section spans every
// API instance. Locks expire after ttl if a holder dies.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, keys ...string) (func(), error) {
	keys = uniqueKeys(keys)
	obtained := make([]*redislock.Lock, 0, len(keys))
	releaseAll := func() {
		// Release with a fresh context: the request context may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, lk := range obtained {
			_ = lk.Release(rctx)
		}
	}

	for _, k := range keys {
		lk, err := l.client.Obtain(ctx, k, l.ttl, &redislock.Options{RetryStrategy: redislock.NoRetry()})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, ErrLockNotObtained
			}
			return nil, err
		}
		obtained = append(obtained, lk)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

// uniqueKeys sorts and dedupes so multi-key acquisition is order independent.
func uniqueKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
