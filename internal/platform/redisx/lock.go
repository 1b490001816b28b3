package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("redis lock not held")

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a best-effort single-holder lease on a key.
type Lock struct {
	rdb   goredis.UniversalClient
	key   string
	token string
	ttl   time.Duration
}

func NewLock(rdb goredis.UniversalClient, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

func (l *Lock) Key() string { return l.key }

// TryAcquire returns false without error when another holder owns the key.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return ErrNotHeld
	}
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	l.token = ""
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
