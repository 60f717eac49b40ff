// Package engine 持有交易状态和下单锁，把行情、订单推送和异步调用结果
// 串行化到同一个事件循环里处理。
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/errs"
	"spottrader/event"
	"spottrader/exchange"
	"spottrader/logger"
	"spottrader/metrics"
	"spottrader/order"
	"spottrader/trader"
)

const (
	kindBuy     = "buy"
	kindSell    = "sell"
	kindReplace = "replace"

	recentIDLimit = 256
)

// Sink 订单更新审计（写入失败不影响交易）
type Sink interface {
	RecordOrderUpdate(o order.Order)
}

// Config 引擎配置
type Config struct {
	MinTradeBase   decimal.Decimal // 最小交易数量（基础币）
	BusyPolicy     BusyPolicy
	SubmitTimeout  time.Duration // 单次下单/改单超时
	LockTimeout    time.Duration // 下单锁看门狗
	BalanceTimeout time.Duration
	InboxSize      int
}

// Snapshot 引擎状态只读副本
type Snapshot struct {
	State         TradingState    `json:"state"`
	Lock          LockState       `json:"lock"`
	LockReason    string          `json:"lock_reason,omitempty"`
	BalancesStale bool            `json:"balances_stale"`
	Trader        trader.Snapshot `json:"trader"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type tickMsg struct{ tick average.Tick }

type orderMsg struct{ order order.Order }

type submitResultMsg struct {
	ticket Ticket
	kind   string
	req    order.Request
	order  order.Order
	err    error
}

type balanceMsg struct {
	balances exchange.Balances
	err      error
}

type paramsMsg struct {
	params       trader.Params
	minTradeBase decimal.Decimal
}

// Engine 交易引擎
type Engine struct {
	cfg    Config
	trader *trader.Trader
	exec   Submitter
	sink   Sink
	events event.Publisher
	lock   *InFlightLock

	inbox   chan interface{}
	stopped chan struct{}
	ctx     context.Context
	spawn   func(func())
	now     func() time.Time

	// 以下字段只在事件循环中访问
	state         TradingState
	balancesStale bool
	refreshing    bool
	terminal      *recentIDs

	snapshot atomic.Pointer[Snapshot]
}

// New 创建交易引擎
func New(cfg Config, t *trader.Trader, exec Submitter, sink Sink, events event.Publisher) *Engine {
	if cfg.BusyPolicy == "" {
		cfg.BusyPolicy = BusyAny
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 15 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = cfg.SubmitTimeout * 2
	}
	if cfg.BalanceTimeout <= 0 {
		cfg.BalanceTimeout = 10 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if events == nil {
		events = nopPublisher{}
	}

	e := &Engine{
		cfg:      cfg,
		trader:   t,
		exec:     exec,
		sink:     sink,
		events:   events,
		inbox:    make(chan interface{}, cfg.InboxSize),
		stopped:  make(chan struct{}),
		ctx:      context.Background(),
		spawn:    func(f func()) { go f() },
		now:      time.Now,
		terminal: newRecentIDs(recentIDLimit),
	}
	e.lock = NewInFlightLock(cfg.LockTimeout, e.onLockForced)
	e.publishSnapshot()
	return e
}

// Restore 写入启动对账得到的状态，必须在 Run 之前调用
func (e *Engine) Restore(state TradingState) {
	e.state = state
	e.balancesStale = false
	e.publishSnapshot()
	metrics.GetPrometheusMetrics().SetBalances(state.BalanceBase.InexactFloat64(), state.BalanceQuote.InexactFloat64())
}

// OnTick 行情回调。收件箱满时丢弃，下一笔成交会重新计算均价。
func (e *Engine) OnTick(tick average.Tick) {
	select {
	case e.inbox <- tickMsg{tick: tick}:
	default:
		metrics.GetPrometheusMetrics().RecordDroppedTick()
		logger.Warn("⚠️ 引擎收件箱已满，丢弃成交 %s@%s", tick.Volume, tick.Price)
	}
}

// OnOrderUpdate 订单推送回调，按接收顺序处理，不丢弃
func (e *Engine) OnOrderUpdate(o order.Order) {
	e.post(orderMsg{order: o})
}

// UpdateParams 热更新交易参数
func (e *Engine) UpdateParams(p trader.Params, minTradeBase decimal.Decimal) {
	e.post(paramsMsg{params: p, minTradeBase: minTradeBase})
}

func (e *Engine) post(m interface{}) {
	select {
	case e.inbox <- m:
	case <-e.stopped:
	}
}

// Run 事件循环，ctx 取消后返回
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer close(e.stopped)

	logger.Info("🚀 交易引擎启动: busy_policy=%s min_trade_base=%s", e.cfg.BusyPolicy, e.cfg.MinTradeBase)
	for {
		select {
		case <-ctx.Done():
			logger.Info("⏹️ 交易引擎停止")
			return ctx.Err()
		case m := <-e.inbox:
			e.handle(m)
		}
	}
}

// Snapshot 最近一次处理后的状态副本，可在任意协程读取
func (e *Engine) Snapshot() Snapshot {
	return *e.snapshot.Load()
}

func (e *Engine) handle(m interface{}) {
	switch msg := m.(type) {
	case tickMsg:
		e.handleTick(msg.tick)
	case orderMsg:
		e.handleOrderUpdate(msg.order)
	case submitResultMsg:
		e.handleSubmitResult(msg)
	case balanceMsg:
		e.handleBalances(msg)
	case paramsMsg:
		e.trader.UpdateParams(msg.params)
		if msg.minTradeBase.IsPositive() {
			e.cfg.MinTradeBase = msg.minTradeBase
		}
		logger.Info("🔄 交易参数已热更新: risk=%s max_loss=%s min_gain=%s", msg.params.Risk, msg.params.MaxLoss, msg.params.MinGain)
	}
	e.publishSnapshot()
}

func (e *Engine) handleTick(tick average.Tick) {
	pm := metrics.GetPrometheusMetrics()
	pm.RecordTick()

	// 下单在途或余额未刷新：只更新均价
	if e.lock.Held() || e.balancesStale {
		if avg, ok := e.trader.Observe(&tick); ok {
			pm.SetAveragePrice(avg.InexactFloat64())
		}
		if e.balancesStale && !e.refreshing {
			e.refreshBalances()
		}
		return
	}

	var req *order.Request
	if e.state.Busy(e.cfg.BusyPolicy) {
		e.trader.Observe(&tick)
	} else {
		req = e.trader.OnTick(&tick, e.position())
	}

	avg, ok := e.trader.Current()
	if !ok {
		return
	}
	pm.SetAveragePrice(avg.InexactFloat64())

	if req != nil {
		e.submitSell(*req)
		return
	}
	e.checkShouldReplace(avg)
	e.checkShouldBuy(avg)
}

// position 当前持仓；基础币不足最小交易量时视为无持仓
func (e *Engine) position() *trader.Position {
	if e.state.BalanceBase.LessThan(e.cfg.MinTradeBase) || !e.state.BalanceBase.IsPositive() {
		return nil
	}
	entry := decimal.Zero
	if lb, ok := e.state.LastBuy.Get(); ok && lb.Price.IsPositive() {
		entry = lb.Price
	} else if p, ok := e.trader.EntryFromResistance(); ok {
		entry = p
	}
	if !entry.IsPositive() {
		logger.Debug("持有 %s 但缺少入场价，跳过卖出判断", e.state.BalanceBase)
		return nil
	}
	return &trader.Position{EntryPrice: entry, Amount: e.state.BalanceBase}
}

func (e *Engine) submitSell(req order.Request) {
	if req.Reason == string(trader.ReasonStopLoss) {
		logger.Warn("🛑 触发止损: %s@%s", req.Amount, req.Price)
		e.events.Publish(event.New(event.EventTypeStopLoss, map[string]interface{}{
			"price":  req.Price.String(),
			"amount": req.Amount.String(),
		}))
	}
	metrics.GetPrometheusMetrics().RecordSellTrigger(req.Reason)
	if !e.submit(kindSell, "", req) {
		e.trader.ClearPendingSell()
	}
}

func (e *Engine) checkShouldBuy(avg decimal.Decimal) {
	if e.state.Busy(e.cfg.BusyPolicy) || e.lock.Held() {
		return
	}
	quote := e.state.BalanceQuote
	if !quote.IsPositive() {
		return
	}
	if quote.LessThan(e.cfg.MinTradeBase.Mul(avg)) {
		return
	}

	req := e.trader.BuyOrder(avg, quote)
	if !req.Amount.IsPositive() {
		return
	}
	if e.submit(kindBuy, "", req) {
		e.trader.UpdateResistance(req.Price)
	}
}

func (e *Engine) checkShouldReplace(avg decimal.Decimal) {
	ab, ok := e.state.ActiveBuy.Get()
	if !ok || !ab.HasID() || e.lock.Held() {
		return
	}
	zone := e.trader.SupportZone(avg)
	if !zone.GreaterThan(ab.Price) {
		return
	}

	q := e.trader.Quantizer()
	req := e.trader.BuyOrder(avg, q.Amount(ab.Notional()))
	if !req.Amount.IsPositive() {
		return
	}
	if e.submit(kindReplace, ab.ID, req) {
		e.trader.NoteSupportZone(zone)
		e.trader.UpdateResistance(req.Price)
	}
}

// submit 获取下单锁并异步发出请求；锁被占用时返回 false
func (e *Engine) submit(kind, id string, req order.Request) bool {
	ticket, ok := e.lock.TryAcquire(kind)
	if !ok {
		return false
	}
	metrics.GetPrometheusMetrics().SetLockSubmitting(true)
	logger.WithFields(logger.Fields{"kind": kind, "side": req.Side, "id": id}).
		Info("📤 提交订单 %s@%s", req.Amount, req.Price)

	ctx := e.ctx
	timeout := e.cfg.SubmitTimeout
	e.spawn(func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var (
			o   order.Order
			err error
		)
		if kind == kindReplace {
			o, err = e.exec.Replace(callCtx, id, req)
		} else {
			o, err = e.exec.Place(callCtx, req)
		}
		e.post(submitResultMsg{ticket: ticket, kind: kind, req: req, order: o, err: err})
	})
	return true
}

func (e *Engine) handleSubmitResult(msg submitResultMsg) {
	pm := metrics.GetPrometheusMetrics()
	if e.lock.Release(msg.ticket) {
		pm.SetLockSubmitting(false)
	}

	if msg.err != nil {
		logger.WithFields(logger.Fields{"step": "submit", "kind": msg.kind, "transport": errs.IsTransport(msg.err)}).
			Error("❌ 下单失败: %v", msg.err)
		e.events.Publish(event.New(event.EventTypeSubmitFailed, map[string]interface{}{
			"kind":  msg.kind,
			"side":  string(msg.req.Side),
			"price": msg.req.Price.String(),
			"error": msg.err.Error(),
		}))
		if msg.req.Side == order.SideSell {
			e.trader.ClearPendingSell()
		}
		return
	}

	o := msg.order
	if o.Side == "" {
		o.Side = msg.req.Side
	}
	e.events.Publish(event.New(event.EventTypeOrderPlaced, map[string]interface{}{
		"kind":   msg.kind,
		"id":     o.ID,
		"side":   string(o.Side),
		"price":  o.Price.String(),
		"amount": o.Amount.String(),
	}))

	// 推送已经先一步把订单推到终态
	if e.terminal.Has(o.ID) {
		logger.Debug("订单 %s 已是终态，忽略下单结果", o.ID)
		return
	}
	if o.Status == order.StatusNew || o.Status == order.StatusUnknown || o.Status == "" {
		o = o.WithStatus(order.StatusActive)
	}
	e.handleOrderUpdate(o)
}

func (e *Engine) handleOrderUpdate(o order.Order) {
	if !o.Side.Valid() {
		err := errs.Invariant("order %s has side %q", o.ID, o.Side)
		logger.WithField("step", "order_update").Error("❌ 丢弃订单更新: %v", err)
		return
	}
	// 同一账户下其他交易对的订单推送不属于本引擎
	if pair := e.trader.Params().Symbol; o.Symbol != "" && pair != "" && o.Symbol != pair {
		err := errs.Invariant("order %s belongs to %s, trading %s", o.ID, o.Symbol, pair)
		logger.WithField("step", "order_update").Warn("⚠️ 丢弃订单更新: %v", err)
		return
	}

	metrics.GetPrometheusMetrics().RecordOrderUpdate(string(o.Side), string(o.Status))
	if e.sink != nil {
		e.sink.RecordOrderUpdate(o)
	}
	e.events.Publish(event.New(event.EventTypeOrderUpdate, map[string]interface{}{
		"id":     o.ID,
		"side":   string(o.Side),
		"status": string(o.Status),
		"price":  o.Price.String(),
		"amount": o.Amount.String(),
	}))
	logger.Info("📋 订单更新: %s", o)

	switch o.Status {
	case order.StatusExecuted:
		e.state.ActiveBuy = order.None()
		e.state.ActiveSell = order.None()
		e.state.setLast(o)
		e.terminal.Add(o.ID)
		if o.Side == order.SideBuy {
			e.trader.OnBuyExecuted(o.Price)
		} else {
			e.trader.Reset()
		}
		e.events.Publish(event.New(event.EventTypeOrderFilled, map[string]interface{}{
			"id":     o.ID,
			"side":   string(o.Side),
			"price":  o.Price.String(),
			"amount": o.Amount.String(),
		}))

	case order.StatusActive:
		e.state.setActive(o)

	case order.StatusCancelled:
		e.terminal.Add(o.ID)
		if e.state.vacate(o.ID) {
			logger.Info("🗑️ 订单 %s 已撤销，释放活动槽位", o.ID)
		}
		if o.Side == order.SideSell {
			e.trader.ClearPendingSell()
		}

	default:
		return
	}

	e.balancesStale = true
	e.refreshBalances()
}

// refreshBalances 异步刷新余额；已有刷新在途时直接返回
func (e *Engine) refreshBalances() {
	pm := metrics.GetPrometheusMetrics()
	if e.refreshing {
		pm.RecordBalanceRefresh("coalesced")
		return
	}
	e.refreshing = true

	ctx := e.ctx
	timeout := e.cfg.BalanceTimeout
	e.spawn(func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		b, err := e.exec.Balances(callCtx)
		e.post(balanceMsg{balances: b, err: err})
	})
}

func (e *Engine) handleBalances(msg balanceMsg) {
	e.refreshing = false
	pm := metrics.GetPrometheusMetrics()

	if msg.err != nil {
		pm.RecordBalanceRefresh("error")
		logger.WithField("step", "balances").Warn("⚠️ 刷新余额失败，下一笔成交重试: %v", msg.err)
		return
	}

	e.state.BalanceBase = msg.balances.Base
	e.state.BalanceQuote = msg.balances.Quote
	e.balancesStale = false
	pm.RecordBalanceRefresh("ok")
	pm.SetBalances(msg.balances.Base.InexactFloat64(), msg.balances.Quote.InexactFloat64())
	logger.Debug("余额已刷新: base=%s quote=%s", msg.balances.Base, msg.balances.Quote)
}

func (e *Engine) onLockForced(reason string, held time.Duration) {
	pm := metrics.GetPrometheusMetrics()
	pm.RecordLockForcedRelease()
	pm.SetLockSubmitting(false)
	logger.WithFields(logger.Fields{"step": "lock", "reason": reason}).
		Error("❌ 下单锁持有 %s 未释放，已强制释放，状态可能与交易所不一致", held.Round(time.Millisecond))
	e.events.Publish(event.New(event.EventTypeLockForcedRelease, map[string]interface{}{
		"reason": reason,
		"held":   held.String(),
	}))
}

func (e *Engine) publishSnapshot() {
	s := Snapshot{
		State:         e.state,
		Lock:          e.lock.State(),
		LockReason:    e.lock.Reason(),
		BalancesStale: e.balancesStale,
		Trader:        e.trader.Snapshot(),
		UpdatedAt:     e.now(),
	}
	e.snapshot.Store(&s)
}

type nopPublisher struct{}

func (nopPublisher) Publish(*event.Event) {}

// recentIDs 最近进入终态的订单号，容量固定，先进先出
type recentIDs struct {
	limit int
	order []string
	set   map[string]struct{}
}

func newRecentIDs(limit int) *recentIDs {
	return &recentIDs{limit: limit, set: make(map[string]struct{}, limit)}
}

func (r *recentIDs) Add(id string) {
	if id == "" {
		return
	}
	if _, ok := r.set[id]; ok {
		return
	}
	if len(r.order) >= r.limit {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
	r.order = append(r.order, id)
	r.set[id] = struct{}{}
}

func (r *recentIDs) Has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := r.set[id]
	return ok
}
