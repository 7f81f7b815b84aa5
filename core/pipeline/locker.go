package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"videoflix/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes pipeline runs for the same video. The returned function
// releases the lock and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, videoID uint) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[uint]*keyedLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, videoID uint) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[videoID]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[videoID] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.release(videoID, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(videoID, l)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) release(videoID uint, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, videoID)
	}
}

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds a SET NX lease per video so runs in different processes
// are serialized too.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a RedisLocker. The lease ttl must outlast a job.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 500 * time.Millisecond}
}

func lockKey(videoID uint) string {
	return fmt.Sprintf("videoflix:lock:video:%d", videoID)
}

func (r *RedisLocker) Lock(ctx context.Context, videoID uint) (func(), error) {
	key := lockKey(videoID)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				logger.Warn("Failed to release video lease",
					logger.String("key", key),
					logger.ErrorField(err))
			}
		})
	}, nil
}
