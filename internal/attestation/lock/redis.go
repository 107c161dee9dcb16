package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	platformredis "proveniq-ops/internal/platform/redis"
	"proveniq-ops/pkg/platform/sentinel"
)

// lockTTL bounds how long a crashed issuer can hold a scope.
const lockTTL = 30 * time.Second

// RedisLocker serializes issuance across processes via SET NX.
type RedisLocker struct {
	client *platformredis.Client
}

// NewRedis constructs a Redis-backed scope locker.
func NewRedis(client *platformredis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, scope Scope) (func(), error) {
	key := scope.Key()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire issuance lock: %w", err)
	}
	if !ok {
		return nil, sentinel.ErrConflict
	}

	return func() {
		// Release only our own token so an expired-and-reacquired lock
		// is never deleted by the previous holder.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		l.client.Eval(context.Background(), script, []string{key}, token)
	}, nil
}
