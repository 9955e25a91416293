package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes account creation for one email.
type Locker interface {
	Lock(ctx context.Context, email string) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// ErrLockTimeout is returned when the lock could not be taken before the context ended.
var ErrLockTimeout = errors.New("ledger: lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock (SET NX PX plus compare-and-delete release).
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultCreateTimeout
	}
	return &RedisLocker{
		client: client,
		prefix: "entitlements:create-lock:",
		ttl:    ttl,
		poll:   50 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, email string) (func(), error) {
	key := l.prefix + email
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// release must run even if ctx already expired
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ Locker = (*RedisLocker)(nil)
