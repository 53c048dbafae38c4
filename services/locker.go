package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work per key (order id, merchant id).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker is an in-process mutex per key. Entries are dropped once nobody holds or waits on them.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*keyedEntry)}
}

func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *KeyedLocker) release(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease based lock shared by every gateway instance.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	TTL    time.Duration
	Retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "omnipay:lock:"
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		TTL:    30 * time.Second,
		Retry:  25 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.Retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		})
	}, nil
}
