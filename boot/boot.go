// Package boot 启动对账：在订阅行情之前从外部数据源恢复交易状态。
//
// 四个步骤（trader / fees / orders / balances）并发执行，全部成功才返回结果；
// 任一步骤失败返回 *errs.ReconciliationFailure，调用方不得进入实盘。
package boot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spottrader/engine"
	"spottrader/errs"
	"spottrader/exchange"
	"spottrader/logger"
	"spottrader/metrics"
	"spottrader/order"
	"spottrader/storage"
	"spottrader/trader"
)

const (
	StepTrader   = "trader"
	StepFees     = "fees"
	StepOrders   = "orders"
	StepBalances = "balances"
)

// Persistence 持久化的交易状态来源
type Persistence interface {
	GetLastTraderState(symbol string) (*storage.TraderState, error)
}

// Config 对账参数
type Config struct {
	Symbol      string
	DefaultFees trader.Fees
	Timeout     time.Duration // 整体超时，默认 30s
}

// Result 对账结果
type Result struct {
	State      engine.TradingState
	Thresholds trader.Thresholds
	Fees       trader.Fees
	Restored   bool // 是否读到了持久化快照
	// FeesFromExchange 手续费来自交易所账户信息，而不是配置默认值
	FeesFromExchange bool
}

// Reconciler 启动对账器
type Reconciler struct {
	cmds    exchange.Commands
	persist Persistence
	cfg     Config
}

// New 创建对账器。persist 为 nil 时 trader 步骤视为无历史数据
func New(cmds exchange.Commands, persist Persistence, cfg Config) *Reconciler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reconciler{cmds: cmds, persist: persist, cfg: cfg}
}

// 各步骤的独立结果，全部完成后统一合并
type traderPart struct {
	state *storage.TraderState
}

type feesPart struct {
	fees     trader.Fees
	exchange bool
}

type ordersPart struct {
	lastBuy, lastSell     order.Slot
	activeBuy, activeSell order.Slot
}

type balancesPart struct {
	base, quote decimal.Decimal
	ok          bool
}

// Run 执行全部对账步骤
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	runID := uuid.NewString()
	logger.WithFields(logger.Fields{"run": runID, "symbol": r.cfg.Symbol}).Info("🔄 开始启动对账")

	var (
		tp    traderPart
		fp    = feesPart{fees: r.cfg.DefaultFees}
		op    ordersPart
		bp    balancesPart
		mu    sync.Mutex
		fails = make(map[string]error)
	)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StepTrader, func(ctx context.Context) error { return r.restoreTrader(ctx, &tp) }},
		{StepFees, func(ctx context.Context) error { return r.restoreFees(ctx, &fp) }},
		{StepOrders, func(ctx context.Context) error { return r.restoreOrders(ctx, &op) }},
		{StepBalances, func(ctx context.Context) error { return r.restoreBalances(ctx, &bp) }},
	}

	// 步骤之间互不取消，每个步骤都要给出自己的结论
	var g errgroup.Group
	for _, s := range steps {
		g.Go(func() error {
			err := s.fn(ctx)
			entry := logger.WithFields(logger.Fields{"run": runID, "step": s.name})
			metrics.GetPrometheusMetrics().RecordBootStep(s.name, err == nil)
			if err != nil {
				entry.WithField("result", "failed").Error("❌ 对账步骤失败: %v", err)
				mu.Lock()
				fails[s.name] = err
				mu.Unlock()
				return err
			}
			entry.WithField("result", "ok").Info("✅ 对账步骤完成")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		failure := &errs.ReconciliationFailure{Steps: fails}
		logger.WithFields(logger.Fields{"run": runID, "failed": len(fails)}).Error("🛑 System boot failed")
		return nil, failure
	}

	res := assemble(tp, fp, op, bp)
	logger.WithFields(logger.Fields{
		"run":             runID,
		"balance_quote":   res.State.BalanceQuote,
		"balance_base":    res.State.BalanceBase,
		"resistance_zone": res.Thresholds.ResistanceZone,
		"support_zone":    res.Thresholds.HighestSupportZone,
		"last_buy":        res.State.LastBuy,
		"last_sell":       res.State.LastSell,
	}).Info("✅ System operational")
	return res, nil
}

// assemble 合并各步骤结果：实时余额覆盖快照余额，订单槽位只来自 orders 步骤
func assemble(tp traderPart, fp feesPart, op ordersPart, bp balancesPart) *Result {
	res := &Result{Fees: fp.fees, FeesFromExchange: fp.exchange}

	if tp.state != nil {
		res.Restored = true
		res.State.BalanceQuote = tp.state.BalanceQuote
		res.State.BalanceBase = tp.state.BalanceBase
		res.Thresholds = trader.Thresholds{
			ResistanceZone:     tp.state.ResistanceZone,
			HighestSupportZone: tp.state.SupportZone,
		}
	}
	if bp.ok {
		res.State.BalanceBase = bp.base
		res.State.BalanceQuote = bp.quote
	}

	res.State.LastBuy = op.lastBuy
	res.State.LastSell = op.lastSell
	res.State.ActiveBuy = op.activeBuy
	res.State.ActiveSell = op.activeSell
	return res
}

func (r *Reconciler) restoreTrader(ctx context.Context, out *traderPart) error {
	if r.persist == nil {
		return nil
	}
	state, err := r.persist.GetLastTraderState(r.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("读取交易状态快照失败: %w", err)
	}
	out.state = state
	return nil
}

func (r *Reconciler) restoreFees(ctx context.Context, out *feesPart) error {
	fees, err := r.cmds.GetFees(ctx)
	if err != nil {
		if errs.IsParse(err) {
			logger.WithField("step", StepFees).Warn("⚠️ 手续费解析失败，使用默认值 maker=%s taker=%s: %v",
				out.fees.Maker, out.fees.Taker, err)
			return nil
		}
		return errs.Transport("fees", err)
	}
	out.fees = trader.Fees{Maker: fees.Maker, Taker: fees.Taker}
	out.exchange = true
	return nil
}

// restoreOrders 先查当前挂单，没有挂单时回退到最近一笔成交
func (r *Reconciler) restoreOrders(ctx context.Context, out *ordersPart) error {
	open, err := r.cmds.GetOpenOrders(ctx)
	if err != nil {
		return errs.Transport("orders", err)
	}
	for _, o := range open {
		if !r.samePair(o) {
			continue
		}
		if !o.Side.Valid() {
			logger.WithField("step", StepOrders).Warn("⚠️ 忽略无效挂单: %v", errs.Invariant("order %s has side %q", o.ID, o.Side))
			continue
		}
		o = o.WithStatus(order.StatusActive)
		if o.Side == order.SideBuy {
			out.activeBuy, out.lastBuy = order.Some(o), order.Some(o)
		} else {
			out.activeSell, out.lastSell = order.Some(o), order.Some(o)
		}
		return nil
	}

	past, err := r.cmds.GetPastTrades(ctx, r.cfg.Symbol)
	if err != nil {
		return errs.Transport("trades", err)
	}
	last, ok := newestTrade(past, r)
	if !ok {
		return nil
	}
	last = last.WithStatus(order.StatusExecuted)
	if last.Side == order.SideBuy {
		out.lastBuy = order.Some(last)
	} else {
		out.lastSell = order.Some(last)
	}
	return nil
}

// newestTrade 取最近一笔有效成交；时间相同时取列表中靠前的
func newestTrade(trades []order.Order, r *Reconciler) (order.Order, bool) {
	var (
		best  order.Order
		found bool
	)
	for _, t := range trades {
		if !r.samePair(t) || !t.Side.Valid() {
			continue
		}
		if !found || t.UpdatedAt.After(best.UpdatedAt) {
			best, found = t, true
		}
	}
	return best, found
}

func (r *Reconciler) samePair(o order.Order) bool {
	return o.Symbol == "" || r.cfg.Symbol == "" || o.Symbol == r.cfg.Symbol
}

func (r *Reconciler) restoreBalances(ctx context.Context, out *balancesPart) error {
	b, err := r.cmds.GetBalances(ctx)
	if err != nil {
		if errs.IsParse(err) {
			logger.WithField("step", StepBalances).Warn("⚠️ 余额解析失败，保留快照余额: %v", err)
			return nil
		}
		return errs.Transport("balances", err)
	}
	out.base, out.quote, out.ok = b.Base, b.Quote, true
	return nil
}
