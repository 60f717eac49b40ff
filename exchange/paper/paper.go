// Package paper is an in-memory exchange. Orders never leave the process;
// fills are simulated against the public trade stream of a real venue.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/logger"
	"spottrader/order"
)

// ErrInsufficientBalance is returned when the available balance cannot cover an order.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrOrderNotFound is returned when replacing an order that is no longer open.
var ErrOrderNotFound = errors.New("order not found")

// TickSource supplies market trades (usually the public Bitfinex stream).
type TickSource interface {
	SetHandlers(onTick func(average.Tick), onOrder func(order.Order))
	Subscribe(ctx context.Context, pair string) error
	Stop()
}

// Config paper exchange settings.
type Config struct {
	Symbol     string
	StartBase  decimal.Decimal
	StartQuote decimal.Decimal
	MakerFee   decimal.Decimal
	TakerFee   decimal.Decimal
}

// Balances available balances.
type Balances struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// Fees fee schedule.
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Exchange simulates a spot account for one pair.
type Exchange struct {
	cfg    Config
	source TickSource
	now    func() time.Time

	mu        sync.Mutex
	base      decimal.Decimal
	quote     decimal.Decimal
	open      map[string]order.Order
	history   []order.Order // newest last
	lastPrice decimal.Decimal
	hasPrice  bool
	onTick    func(average.Tick)
	onOrder   func(order.Order)
}

// New creates a paper exchange. source may be nil when ticks are fed through OnMarketTick.
func New(cfg Config, source TickSource) *Exchange {
	e := &Exchange{
		cfg:    cfg,
		source: source,
		now:    time.Now,
		base:   cfg.StartBase,
		quote:  cfg.StartQuote,
		open:   make(map[string]order.Order),
	}
	if source != nil {
		source.SetHandlers(e.OnMarketTick, nil)
	}
	logger.Info("Paper exchange ready: symbol=%s base=%s quote=%s", cfg.Symbol, cfg.StartBase, cfg.StartQuote)
	return e
}

// SetClock overrides the clock (tests).
func (e *Exchange) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// GetName exchange name.
func (e *Exchange) GetName() string { return "paper" }

// SetHandlers registers tick and order callbacks.
func (e *Exchange) SetHandlers(onTick func(average.Tick), onOrder func(order.Order)) {
	e.mu.Lock()
	e.onTick = onTick
	e.onOrder = onOrder
	e.mu.Unlock()
}

// Subscribe forwards to the tick source.
func (e *Exchange) Subscribe(ctx context.Context, pair string) error {
	if e.source == nil {
		return nil
	}
	if pair == "" {
		pair = e.cfg.Symbol
	}
	return e.source.Subscribe(ctx, pair)
}

// Authenticate is a no-op; the paper account needs no credentials.
func (e *Exchange) Authenticate(ctx context.Context) error { return nil }

// OnMarketTick matches resting orders against a market trade, then forwards the tick.
func (e *Exchange) OnMarketTick(tick average.Tick) {
	e.mu.Lock()
	e.lastPrice = tick.Price
	e.hasPrice = true

	var fills []order.Order
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		o := e.open[id]
		crossed := (o.Side == order.SideBuy && !tick.Price.GreaterThan(o.Price)) ||
			(o.Side == order.SideSell && !tick.Price.LessThan(o.Price))
		if crossed {
			fills = append(fills, e.fillLocked(o, e.cfg.MakerFee))
		}
	}
	onTick, onOrder := e.onTick, e.onOrder
	e.mu.Unlock()

	for _, f := range fills {
		if onOrder != nil {
			onOrder(f)
		}
	}
	if onTick != nil {
		onTick(tick)
	}
}

// fillLocked settles an order in full. Reserved funds were already removed at placement.
func (e *Exchange) fillLocked(o order.Order, fee decimal.Decimal) order.Order {
	delete(e.open, o.ID)
	one := decimal.NewFromInt(1)
	if o.Side == order.SideBuy {
		e.base = e.base.Add(o.Amount.Mul(one.Sub(fee)))
	} else {
		e.quote = e.quote.Add(o.Notional().Mul(one.Sub(fee)))
	}
	o.Status = order.StatusExecuted
	o.Source = order.SourceSocket
	o.UpdatedAt = e.now()
	e.history = append(e.history, o)
	return o
}

func (e *Exchange) reserveLocked(side order.Side, price, amount decimal.Decimal) error {
	if side == order.SideBuy {
		need := price.Mul(amount)
		if need.GreaterThan(e.quote) {
			return fmt.Errorf("%w: need %s quote, have %s", ErrInsufficientBalance, need, e.quote)
		}
		e.quote = e.quote.Sub(need)
		return nil
	}
	if amount.GreaterThan(e.base) {
		return fmt.Errorf("%w: need %s base, have %s", ErrInsufficientBalance, amount, e.base)
	}
	e.base = e.base.Sub(amount)
	return nil
}

func (e *Exchange) releaseLocked(o order.Order) {
	if o.Side == order.SideBuy {
		e.quote = e.quote.Add(o.Notional())
	} else {
		e.base = e.base.Add(o.Amount)
	}
}

func isFillOrKill(typ string) bool {
	return strings.Contains(strings.ToUpper(typ), "FOK")
}

// PlaceOrder places a limit order. Fill-or-kill orders execute against the
// last trade or are cancelled immediately.
func (e *Exchange) PlaceOrder(ctx context.Context, req order.Request) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	if !req.Side.Valid() || !req.Amount.IsPositive() || !req.Price.IsPositive() {
		return order.Order{}, fmt.Errorf("invalid order request: %s %s@%s", req.Side, req.Amount, req.Price)
	}

	e.mu.Lock()
	if err := e.reserveLocked(req.Side, req.Price, req.Amount); err != nil {
		e.mu.Unlock()
		return order.Order{}, err
	}

	o := order.FromRequest(req, uuid.NewString(), order.StatusActive, e.now())
	if req.Symbol == "" {
		o.Symbol = e.cfg.Symbol
	}

	if isFillOrKill(req.Type) {
		crossed := e.hasPrice && ((o.Side == order.SideBuy && !e.lastPrice.GreaterThan(o.Price)) ||
			(o.Side == order.SideSell && !e.lastPrice.LessThan(o.Price)))
		if crossed {
			o = e.fillLocked(o, e.cfg.TakerFee)
		} else {
			e.releaseLocked(o)
			o.Status = order.StatusCancelled
			o.Source = order.SourceSocket
			e.history = append(e.history, o)
		}
	} else {
		o.Source = order.SourceSocket
		e.open[o.ID] = o
	}
	onOrder := e.onOrder
	e.mu.Unlock()

	if onOrder != nil {
		onOrder(o)
	}
	o.Source = order.SourceRequest
	return o, nil
}

// ReplaceOrder changes price and amount of a resting order, keeping its id.
func (e *Exchange) ReplaceOrder(ctx context.Context, id string, req order.Request) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}

	e.mu.Lock()
	existing, ok := e.open[id]
	if !ok {
		e.mu.Unlock()
		return order.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	e.releaseLocked(existing)
	if err := e.reserveLocked(existing.Side, req.Price, req.Amount); err != nil {
		// 恢复原订单的冻结
		_ = e.reserveLocked(existing.Side, existing.Price, existing.Amount)
		e.mu.Unlock()
		return order.Order{}, err
	}
	updated := existing
	updated.Price = req.Price
	updated.Amount = req.Amount
	updated.Status = order.StatusActive
	updated.Source = order.SourceSocket
	updated.UpdatedAt = e.now()
	e.open[id] = updated
	onOrder := e.onOrder
	e.mu.Unlock()

	if onOrder != nil {
		onOrder(updated)
	}
	updated.Source = order.SourceRequest
	return updated, nil
}

// GetBalances available balances (reserved funds excluded).
func (e *Exchange) GetBalances(ctx context.Context) (Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Balances{Base: e.base, Quote: e.quote}, nil
}

// GetFees configured fee schedule.
func (e *Exchange) GetFees(ctx context.Context) (Fees, error) {
	return Fees{Maker: e.cfg.MakerFee, Taker: e.cfg.TakerFee}, nil
}

// GetOpenOrders resting orders, oldest first.
func (e *Exchange) GetOpenOrders(ctx context.Context) ([]order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]order.Order, 0, len(e.open))
	for _, o := range e.open {
		o.Source = order.SourceRestActive
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// GetPastTrades executed orders, newest first.
func (e *Exchange) GetPastTrades(ctx context.Context, pair string) ([]order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]order.Order, 0, len(e.history))
	for i := len(e.history) - 1; i >= 0; i-- {
		o := e.history[i]
		if o.Status != order.StatusExecuted {
			continue
		}
		o.Source = order.SourceRestPast
		out = append(out, o)
	}
	return out, nil
}

// Close stops the tick source.
func (e *Exchange) Close() error {
	if e.source != nil {
		e.source.Stop()
	}
	return nil
}
