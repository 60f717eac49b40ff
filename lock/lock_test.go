package lock

import (
	"context"
	"testing"
	"time"
)

func TestNopLockAlwaysAcquires(t *testing.T) {
	l := NewNopLock()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.TryLock(ctx, "order:bitfinex:tBTCUSD", time.Second)
		if err != nil || !ok {
			t.Fatalf("NopLock 应总是成功: ok=%v err=%v", ok, err)
		}
	}
	if err := l.Unlock(ctx, "order:bitfinex:tBTCUSD"); err != nil {
		t.Errorf("NopLock 释放不应失败: %v", err)
	}
}

func TestFactoryDisabledReturnsNop(t *testing.T) {
	l, err := NewDistributedLock(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("创建锁失败: %v", err)
	}
	if _, ok := l.(*NopLock); !ok {
		t.Errorf("未启用时应返回 NopLock, 得到 %T", l)
	}

	if _, err := NewDistributedLock(&Config{Enabled: true, Type: "etcd"}); err == nil {
		t.Error("不支持的锁类型应返回错误")
	}
}

func TestRedisUnlockWithoutHolding(t *testing.T) {
	l := NewRedisLock(nil, "spottrader:")
	if err := l.Unlock(context.Background(), "order:x"); err == nil {
		t.Error("未持有的锁释放应返回错误")
	}
}

func TestPairKey(t *testing.T) {
	if got := PairKey("bitfinex", "tBTCUSD"); got != "order:bitfinex:tBTCUSD" {
		t.Errorf("锁 key 不正确: %s", got)
	}
}
