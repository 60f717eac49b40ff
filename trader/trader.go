package trader

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/order"
	"spottrader/quant"
)

// State 单个持仓的决策状态
type State string

const (
	StateFlat      State = "FLAT"       // 无持仓
	StateHolding   State = "HOLDING"    // 持仓中，尚未产生卖出候选
	StateSellArmed State = "SELL_ARMED" // 已记录峰值或卖单待确认
)

// SellReason 卖出触发原因
type SellReason string

const (
	ReasonStopLoss     SellReason = "stop_loss"
	ReasonTrailingStop SellReason = "trailing_stop"
	ReasonMaxWait      SellReason = "max_wait"
)

// Params 交易参数
type Params struct {
	Symbol          string
	Exchange        string
	Risk            decimal.Decimal // 峰值回撤比例（追踪止盈带宽）
	MaxLoss         decimal.Decimal // 最大亏损比例（止损）
	MinGain         decimal.Decimal // 最小盈利比例（卖出底线）
	SellOffset      decimal.Decimal // 卖单相对均价的让价比例
	SupportMargin   decimal.Decimal // 支撑位相对均价的折价比例
	MaxDropFallback decimal.Decimal // 回撤价截断后不低于峰值时使用的固定价差
	MaxWait         time.Duration   // 记录峰值后最长等待时间
	SellType        string
	BuyType         string
}

// Fees 手续费率（小数，如 0.001）
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Position 当前持仓
type Position struct {
	EntryPrice decimal.Decimal
	Amount     decimal.Decimal
}

// Thresholds 需要跨重启保存的阈值
type Thresholds struct {
	ResistanceZone     decimal.Decimal `json:"resistance_zone"`
	HighestSupportZone decimal.Decimal `json:"highest_support_zone"`
}

// Trader 卖出状态机 + 买入/改单的定价工具
type Trader struct {
	mu     sync.Mutex
	params Params
	fees   Fees
	q      quant.Quantizer
	avg    *average.Averager
	now    func() time.Time

	current    decimal.Decimal
	hasCurrent bool

	// 单个持仓的临时状态，持仓消失时清空
	hasPosition   bool
	hasLimits     bool
	minSellPrice  decimal.Decimal
	stopLossPrice decimal.Decimal
	hasPeak       bool
	peakPrice     decimal.Decimal
	peakTime      time.Time
	pendingSell   bool

	thresholds Thresholds
}

// New 创建交易决策器
func New(params Params, fees Fees, q quant.Quantizer, avg *average.Averager) *Trader {
	if params.MaxDropFallback.IsZero() {
		params.MaxDropFallback = decimal.RequireFromString("0.1")
	}
	return &Trader{
		params: params,
		fees:   fees,
		q:      q,
		avg:    avg,
		now:    time.Now,
	}
}

// SetClock 替换时钟（测试用）
func (t *Trader) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Observe 只更新均价，不做任何决策
func (t *Trader) Observe(tick *average.Tick) (decimal.Decimal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observeLocked(tick)
}

func (t *Trader) observeLocked(tick *average.Tick) (decimal.Decimal, bool) {
	avg, ok := t.avg.Observe(tick)
	if ok {
		t.current = avg
		t.hasCurrent = true
	}
	return avg, ok
}

// Current 当前均价
func (t *Trader) Current() (decimal.Decimal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.hasCurrent
}

// OnTick 处理一笔成交：更新均价，并在持仓时判断是否卖出
// pos 为 nil 表示无持仓；返回 nil 表示本次不操作
func (t *Trader) OnTick(tick *average.Tick, pos *Position) *order.Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	avg, ok := t.observeLocked(tick)

	if pos == nil || !pos.Amount.IsPositive() {
		t.resetLocked()
		return nil
	}
	t.hasPosition = true

	if t.pendingSell || !ok {
		return nil
	}

	if !t.hasLimits {
		one := decimal.NewFromInt(1)
		t.minSellPrice = pos.EntryPrice.Mul(one.Add(t.fees.Maker).Add(t.params.MinGain))
		t.stopLossPrice = pos.EntryPrice.Mul(one.Sub(t.fees.Maker.Add(t.params.MaxLoss)))
		t.hasLimits = true
	}

	now := t.now()

	if avg.LessThan(t.stopLossPrice) {
		return t.sellLocked(avg, pos.Amount, ReasonStopLoss)
	}

	if t.q.Compare(avg, t.minSellPrice) < 1 {
		return nil
	}

	if !t.hasPeak {
		t.recordPeak(avg, now)
		return nil
	}

	if avg.GreaterThan(t.peakPrice) {
		t.recordPeak(avg, now)
		return nil
	}

	if avg.LessThan(t.maxDrop(t.peakPrice)) {
		return t.sellLocked(avg, pos.Amount, ReasonTrailingStop)
	}

	if t.peakTime.Add(t.params.MaxWait).Before(now) {
		return t.sellLocked(avg, pos.Amount, ReasonMaxWait)
	}

	return nil
}

func (t *Trader) recordPeak(price decimal.Decimal, at time.Time) {
	t.hasPeak = true
	t.peakPrice = price
	t.peakTime = at
}

// maxDrop 峰值回撤价；截断后不低于峰值时退化为峰值减固定价差
func (t *Trader) maxDrop(peak decimal.Decimal) decimal.Decimal {
	drop := t.q.Price(peak.Mul(decimal.NewFromInt(1).Sub(t.params.Risk)))
	if drop.LessThan(t.q.Price(peak)) {
		return drop
	}
	return peak.Sub(t.params.MaxDropFallback)
}

// MaxDrop 导出给状态接口使用
func (t *Trader) MaxDrop(peak decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxDrop(peak)
}

func (t *Trader) sellLocked(avg, amount decimal.Decimal, reason SellReason) *order.Request {
	price := avg.Mul(decimal.NewFromInt(1).Sub(t.params.SellOffset))
	req := t.sellOrder(price, amount, reason)
	t.pendingSell = true
	return &req
}

func (t *Trader) sellOrder(price, amount decimal.Decimal, reason SellReason) order.Request {
	return order.Request{
		Symbol:   t.params.Symbol,
		Exchange: t.params.Exchange,
		Side:     order.SideSell,
		Type:     t.params.SellType,
		Price:    t.q.Price(price),
		Amount:   t.q.Amount(amount),
		Reason:   string(reason),
	}
}

// BuyOrder 以 price 花费全部 quote 的买单
func (t *Trader) BuyOrder(price, quote decimal.Decimal) order.Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.q.Price(price)
	amount := decimal.Zero
	if p.IsPositive() {
		amount = t.q.Amount(quote.Div(p))
	}
	return order.Request{
		Symbol:   t.params.Symbol,
		Exchange: t.params.Exchange,
		Side:     order.SideBuy,
		Type:     t.params.BuyType,
		Price:    p,
		Amount:   amount,
		Quote:    quote,
	}
}

// ResistanceZone 买入价对应的卖出目标位
func (t *Trader) ResistanceZone(price decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resistanceZone(price)
}

func (t *Trader) resistanceZone(price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	return t.q.Price(price.Mul(one.Add(t.fees.Maker).Add(t.params.MinGain)))
}

// SupportZone 均价对应的买入支撑位
func (t *Trader) SupportZone(avg decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.Price(avg.Mul(decimal.NewFromInt(1).Sub(t.params.SupportMargin)))
}

// EntryFromResistance 由已保存的阻力位反推入场价（重启后买单记录缺失时使用）
func (t *Trader) EntryFromResistance() (decimal.Decimal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.thresholds.ResistanceZone.IsPositive() {
		return decimal.Zero, false
	}
	one := decimal.NewFromInt(1)
	return t.thresholds.ResistanceZone.Div(one.Add(t.fees.Maker).Add(t.params.MinGain)), true
}

// UpdateResistance 根据买入价重算阻力位
func (t *Trader) UpdateResistance(price decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thresholds.ResistanceZone = t.resistanceZone(price)
	return t.thresholds.ResistanceZone
}

// NoteSupportZone 记录改单使用的支撑位，保留最高值
func (t *Trader) NoteSupportZone(zone decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if zone.GreaterThan(t.thresholds.HighestSupportZone) {
		t.thresholds.HighestSupportZone = zone
	}
}

// OnBuyExecuted 买单成交：新持仓开始，重算阻力位
func (t *Trader) OnBuyExecuted(price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.thresholds.ResistanceZone = t.resistanceZone(price)
	t.thresholds.HighestSupportZone = decimal.Zero
}

// Thresholds 当前阈值
func (t *Trader) Thresholds() Thresholds {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.thresholds
}

// RestoreThresholds 启动时恢复阈值
func (t *Trader) RestoreThresholds(th Thresholds) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thresholds = th
}

// ClearPendingSell 卖单提交失败或被撤销后允许重新卖出
func (t *Trader) ClearPendingSell() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingSell = false
}

// PendingSell 是否有待确认的卖单
func (t *Trader) PendingSell() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingSell
}

// Reset 持仓消失，回到 FLAT
func (t *Trader) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Trader) resetLocked() {
	t.hasPosition = false
	t.hasLimits = false
	t.minSellPrice = decimal.Zero
	t.stopLossPrice = decimal.Zero
	t.hasPeak = false
	t.peakPrice = decimal.Zero
	t.peakTime = time.Time{}
	t.pendingSell = false
}

// State 当前决策状态
func (t *Trader) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.hasPosition:
		return StateFlat
	case t.pendingSell || t.hasPeak:
		return StateSellArmed
	default:
		return StateHolding
	}
}

// Snapshot 决策器内部状态（只读副本）
type Snapshot struct {
	State         State           `json:"state"`
	Average       decimal.Decimal `json:"average"`
	MinSellPrice  decimal.Decimal `json:"min_sell_price"`
	StopLossPrice decimal.Decimal `json:"stop_loss_price"`
	PeakPrice     decimal.Decimal `json:"peak_price"`
	PeakTime      time.Time       `json:"peak_time"`
	PendingSell   bool            `json:"pending_sell"`
	Thresholds    Thresholds      `json:"thresholds"`
	AverageWindow string          `json:"average_window"` // 均价窗口，如 "5m0s"
	AverageTrades int             `json:"average_trades"` // 窗口内保留的成交笔数
}

// Snapshot 返回只读副本
func (t *Trader) Snapshot() Snapshot {
	state := t.State()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		State:         state,
		Average:       t.current,
		MinSellPrice:  t.minSellPrice,
		StopLossPrice: t.stopLossPrice,
		PeakPrice:     t.peakPrice,
		PeakTime:      t.peakTime,
		PendingSell:   t.pendingSell,
		Thresholds:    t.thresholds,
		AverageWindow: t.avg.Window().String(),
		AverageTrades: t.avg.Len(),
	}
}

// Params 当前参数
func (t *Trader) Params() Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

// UpdateParams 热更新参数；缓存的止损/卖出底线按新参数重算
func (t *Trader) UpdateParams(p Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.MaxDropFallback.IsZero() {
		p.MaxDropFallback = t.params.MaxDropFallback
	}
	t.params = p
	t.hasLimits = false
}

// Fees 当前手续费
func (t *Trader) Fees() Fees {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fees
}

// SetFees 设置手续费
func (t *Trader) SetFees(f Fees) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fees = f
	t.hasLimits = false
}

// Quantizer 规整器
func (t *Trader) Quantizer() quant.Quantizer {
	return t.q
}
