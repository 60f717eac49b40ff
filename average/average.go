package average

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/quant"
)

// Tick 一笔成交
type Tick struct {
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Averager 时间窗口内的成交量加权均价
// 缓冲区按时间倒序（最新在前），无论多旧都至少保留 minTrades 笔
type Averager struct {
	mu        sync.Mutex
	window    time.Duration
	minTrades int
	quant     quant.Quantizer
	now       func() time.Time
	ticks     []Tick
}

// New 创建均价计算器
func New(window time.Duration, minTrades int, q quant.Quantizer) *Averager {
	if minTrades < 0 {
		minTrades = 0
	}
	return &Averager{
		window:    window,
		minTrades: minTrades,
		quant:     q,
		now:       time.Now,
	}
}

// SetClock 替换时钟（测试用）
func (a *Averager) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// SetWindow 热更新窗口参数
func (a *Averager) SetWindow(window time.Duration, minTrades int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = window
	if minTrades >= 0 {
		a.minTrades = minTrades
	}
}

// Observe 记录一笔成交并返回当前均价
// tick 为 nil 时只重新计算；没有数据或总成交量为 0 时 ok=false
func (a *Averager) Observe(tick *Tick) (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prune(a.now())

	if tick != nil {
		a.ticks = append(a.ticks, Tick{})
		copy(a.ticks[1:], a.ticks)
		a.ticks[0] = Tick{Price: tick.Price, Volume: tick.Volume.Abs(), Timestamp: tick.Timestamp}
	}

	if len(a.ticks) == 0 {
		return decimal.Zero, false
	}

	weighted := decimal.Zero
	volume := decimal.Zero
	for _, t := range a.ticks {
		weighted = weighted.Add(t.Price.Mul(t.Volume))
		volume = volume.Add(t.Volume)
	}
	if volume.IsZero() {
		return decimal.Zero, false
	}
	return a.quant.Price(weighted.Div(volume)), true
}

// prune 删除超出窗口的成交，最新的 minTrades 笔不动
func (a *Averager) prune(now time.Time) {
	if len(a.ticks) <= a.minTrades {
		return
	}
	kept := a.ticks[:a.minTrades]
	for _, t := range a.ticks[a.minTrades:] {
		if now.Sub(t.Timestamp) < a.window {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(a.ticks); i++ {
		a.ticks[i] = Tick{}
	}
	a.ticks = kept
}

// Len 当前保留的成交笔数
func (a *Averager) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ticks)
}

// Oldest 最旧一笔成交的时间
func (a *Averager) Oldest() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ticks) == 0 {
		return time.Time{}, false
	}
	return a.ticks[len(a.ticks)-1].Timestamp, true
}

// Window 当前窗口长度
func (a *Averager) Window() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window
}
