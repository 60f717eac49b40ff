package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 值等于本实例写入的 token 时才删除，过期后被别人拿走的锁不会误删
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 SET NX PX 的锁
type RedisLock struct {
	client redis.UniversalClient
	prefix string
	owner  string

	mu   sync.Mutex
	held map[string]string // key -> token
}

// NewRedisLock 创建 Redis 锁
func NewRedisLock(client redis.UniversalClient, prefix string) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		owner:  uuid.NewString(),
		held:   make(map[string]string),
	}
}

func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := r.owner + "/" + uuid.NewString()
	err := r.client.SetArgs(ctx, r.prefix+key, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis set nx %s: %w", key, err)
	}

	r.mu.Lock()
	r.held[key] = token
	r.mu.Unlock()
	return true, nil
}

func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.held[key]
	delete(r.held, key)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("lock %s is not held by this instance", key)
	}

	n, err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s expired before release", key)
	}
	return nil
}

func (r *RedisLock) Close() error {
	return r.client.Close()
}
