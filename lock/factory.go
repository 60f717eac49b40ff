package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config 分布式锁配置
type Config struct {
	Enabled    bool
	Type       string // 目前只有 redis
	Prefix     string
	DefaultTTL time.Duration
	Redis      RedisConfig
}

// RedisConfig Redis 连接参数
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

const pingTimeout = 3 * time.Second

// NewDistributedLock 按配置创建锁；未启用时返回 NopLock。
// Redis 在启动时不可达直接报错，避免带着一个永远失败的锁运行
func NewDistributedLock(cfg *Config) (DistributedLock, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNopLock(), nil
	}
	if cfg.Type != "" && cfg.Type != "redis" {
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Redis.Addr, err)
	}
	return NewRedisLock(client, cfg.Prefix), nil
}
