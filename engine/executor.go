package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"spottrader/exchange"
	"spottrader/lock"
	"spottrader/logger"
	"spottrader/metrics"
	"spottrader/order"
)

// ErrPairLocked 其他实例正在该交易对上下单
var ErrPairLocked = errors.New("pair is locked by another instance")

// Submitter 引擎依赖的下单与余额查询
type Submitter interface {
	Place(ctx context.Context, req order.Request) (order.Order, error)
	Replace(ctx context.Context, id string, req order.Request) (order.Order, error)
	Balances(ctx context.Context) (exchange.Balances, error)
}

// Executor 基于 exchange.Commands 的订单执行器：限流 + 分布式锁 + 指标，不重试
type Executor struct {
	cmds         exchange.Commands
	limiter      *rate.Limiter
	dlock        lock.DistributedLock
	lockTTL      time.Duration
	exchangeName string
	symbol       string
}

// NewExecutor 创建订单执行器
func NewExecutor(cmds exchange.Commands, exchangeName, symbol string, dlock lock.DistributedLock, lockTTL time.Duration) *Executor {
	if dlock == nil {
		dlock = lock.NewNopLock()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Executor{
		cmds:         cmds,
		limiter:      rate.NewLimiter(rate.Limit(5), 10), // Bitfinex 认证接口限频较严
		dlock:        dlock,
		lockTTL:      lockTTL,
		exchangeName: exchangeName,
		symbol:       symbol,
	}
}

// Place 下单
func (e *Executor) Place(ctx context.Context, req order.Request) (order.Order, error) {
	return e.run(ctx, "place", req, func(ctx context.Context) (order.Order, error) {
		return e.cmds.PlaceOrder(ctx, req)
	})
}

// Replace 改单（保留订单号）
func (e *Executor) Replace(ctx context.Context, id string, req order.Request) (order.Order, error) {
	return e.run(ctx, "replace", req, func(ctx context.Context) (order.Order, error) {
		return e.cmds.ReplaceOrder(ctx, id, req)
	})
}

// Balances 查询余额
func (e *Executor) Balances(ctx context.Context) (exchange.Balances, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return exchange.Balances{}, fmt.Errorf("速率限制等待失败: %w", err)
	}
	return e.cmds.GetBalances(ctx)
}

func (e *Executor) run(ctx context.Context, kind string, req order.Request, call func(context.Context) (order.Order, error)) (order.Order, error) {
	pm := metrics.GetPrometheusMetrics()
	side := string(req.Side)
	lockKey := lock.PairKey(e.exchangeName, e.symbol)

	acquired, err := e.dlock.TryLock(ctx, lockKey, e.lockTTL)
	switch {
	case err != nil:
		// 锁服务不可用时不阻塞下单
		logger.Warn("⚠️ [%s] 获取分布式锁失败，继续下单: %v", e.exchangeName, err)
		pm.RecordLockAcquire(lockKey, "failed")
	case !acquired:
		pm.RecordLockAcquire(lockKey, "skipped")
		pm.RecordOrderFailure(e.exchangeName, e.symbol, side, "locked")
		logger.Warn("🔒 [%s] %s 已被其他实例锁定，跳过 %s", e.exchangeName, e.symbol, kind)
		return order.Order{}, ErrPairLocked
	default:
		pm.RecordLockAcquire(lockKey, "success")
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if unlockErr := e.dlock.Unlock(unlockCtx, lockKey); unlockErr != nil {
				logger.Warn("⚠️ [%s] 释放分布式锁失败: %v", e.exchangeName, unlockErr)
			}
		}()
	}

	if err := e.limiter.Wait(ctx); err != nil {
		pm.RecordOrderFailure(e.exchangeName, e.symbol, side, "rate_limit")
		return order.Order{}, fmt.Errorf("速率限制等待失败: %w", err)
	}

	start := time.Now()
	o, err := call(ctx)
	if err != nil {
		pm.RecordOrderFailure(e.exchangeName, e.symbol, side, failureReason(err))
		logger.Error("❌ [%s] %s 失败: %s %s@%s: %v", e.exchangeName, kind, side, req.Amount, req.Price, err)
		return order.Order{}, err
	}

	pm.RecordOrder(e.exchangeName, e.symbol, side, kind, time.Since(start))
	logger.Info("✅ [%s] %s 成功: %s %s@%s 订单ID: %s", e.exchangeName, kind, side, req.Amount, req.Price, o.ID)
	return o, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
