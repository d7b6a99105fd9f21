package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseJobLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobLocker elects one replica per job run. The lock expires on its own after ttl
// so a crashed holder cannot wedge the schedule.
type RedisJobLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisJobLocker(client redis.UniversalClient, prefix string) *RedisJobLocker {
	if prefix == "" {
		prefix = "authcore:job"
	}
	return &RedisJobLocker{client: client, prefix: prefix}
}

func (l *RedisJobLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, name)
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseJobLockScript.Run(releaseCtx, l.client, []string{key}, owner).Err()
	}, true, nil
}
