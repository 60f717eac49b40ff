package lock

import (
	"context"
	"fmt"
	"time"
)

// DistributedLock 跨进程的交易对下单锁，同一交易对同一时刻只允许一个实例提交订单
type DistributedLock interface {
	// TryLock 非阻塞获取，false 表示锁在其他实例手里
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// PairKey 交易对下单锁的 key
func PairKey(exchange, symbol string) string {
	return fmt.Sprintf("order:%s:%s", exchange, symbol)
}

// NopLock 单实例模式下的空锁，总能拿到
type NopLock struct{}

func NewNopLock() *NopLock { return &NopLock{} }

func (*NopLock) TryLock(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (*NopLock) Unlock(context.Context, string) error { return nil }

func (*NopLock) Close() error { return nil }
