package lock

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// releaseTimeout bounds unlock and renewal calls, which run on their own
// context because the holder's may already be done.
const releaseTimeout = 2 * time.Second

// RedisLocker serializes work per key across processes sharing one Redis.
// While held, a lock's TTL is pushed back every TTL/3, so it only expires
// when its holder stops renewing it (crash or lost connection).
type RedisLocker struct {
	rdb   *redis.Client
	TTL   time.Duration
	Retry time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, TTL: 30 * time.Second, Retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Retry):
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.renew(key, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := unlockScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
				log.Printf("[lock] release %s failed, it expires in at most %s: %v", key, l.TTL, err)
			}
		})
	}, nil
}

func (l *RedisLocker) renew(key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	interval := l.TTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		n, err := renewScript.Run(ctx, l.rdb, []string{key}, token, l.TTL.Milliseconds()).Int()
		cancel()
		if err != nil {
			log.Printf("[lock] renew %s failed: %v", key, err)
			continue
		}
		if n == 0 {
			log.Printf("[lock] %s expired before its holder finished", key)
			return
		}
	}
}
