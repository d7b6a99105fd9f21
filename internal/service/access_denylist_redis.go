package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// denySubjectScript stores the later of the current and proposed cutoffs and refreshes
// the ttl. Cutoffs are decimal unix nanoseconds, compared as strings to stay exact.
var denySubjectScript = redis.NewScript(`
local proposed = ARGV[1]
local current = redis.call("GET", KEYS[1])
if current and (#current > #proposed or (#current == #proposed and current > proposed)) then
	proposed = current
end
redis.call("SET", KEYS[1], proposed, "PX", ARGV[2])
return proposed
`)

type RedisAccessDenylist struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAccessDenylist(client redis.UniversalClient, prefix string) *RedisAccessDenylist {
	if prefix == "" {
		prefix = "authcore:deny"
	}
	return &RedisAccessDenylist{
		client: client,
		prefix: prefix,
	}
}

func (d *RedisAccessDenylist) DenySubject(ctx context.Context, subjectID string, before time.Time, ttl time.Duration) error {
	if d.client == nil || ttl <= 0 {
		return nil
	}
	ttlMillis := max(ttl.Milliseconds(), 1)
	return denySubjectScript.Run(ctx, d.client, []string{d.key(subjectID)},
		strconv.FormatInt(before.UTC().UnixNano(), 10), ttlMillis).Err()
}

func (d *RedisAccessDenylist) DeniedBefore(ctx context.Context, subjectID string) (time.Time, bool, error) {
	if d.client == nil {
		return time.Time{}, false, nil
	}
	raw, err := d.client.Get(ctx, d.key(subjectID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode denylist entry: %w", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (d *RedisAccessDenylist) key(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s", d.prefix, subjectID)
}
