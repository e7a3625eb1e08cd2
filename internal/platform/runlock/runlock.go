// Package runlock guards against overlapping sync runs for the same
// practice. The Redis implementation spans replicas; Local covers a single
// process.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the key.
var ErrLocked = errors.New("run already in progress")

// Lock is a held run guard.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out run guards keyed by name.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type RedisLocker struct {
	client *redislock.Client
	prefix string
}

func NewRedisLocker(rdb redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLock{lock}, nil
}

type redisLock struct{ lock *redislock.Lock }

func (r redisLock) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// In-process
// ---------------------------------------------------------------------------

// LocalLocker is a Locker for single-process deployments without Redis.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expires, ok := l.held[key]; ok && l.now().Before(expires) {
		return nil, ErrLocked
	}
	expires := l.now().Add(ttl)
	l.held[key] = expires
	return &localLock{owner: l, key: key, expires: expires}, nil
}

type localLock struct {
	owner   *LocalLocker
	key     string
	expires time.Time
}

func (ll *localLock) Release(context.Context) error {
	ll.owner.mu.Lock()
	defer ll.owner.mu.Unlock()
	// Only the holder that set this expiry may clear it.
	if ll.owner.held[ll.key].Equal(ll.expires) {
		delete(ll.owner.held, ll.key)
	}
	return nil
}
