package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/order"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper() (*Exchange, *[]order.Order) {
	ex := New(Config{
		Symbol:     "tBTCUSD",
		StartBase:  decimal.Zero,
		StartQuote: dec("50"),
		MakerFee:   decimal.Zero,
		TakerFee:   decimal.Zero,
	}, nil)
	updates := &[]order.Order{}
	ex.SetHandlers(nil, func(o order.Order) { *updates = append(*updates, o) })
	return ex, updates
}

func tick(price string) average.Tick {
	return average.Tick{Price: dec(price), Volume: dec("1"), Timestamp: time.Now()}
}

func TestLimitBuyRestsThenFills(t *testing.T) {
	ex, updates := newPaper()
	ctx := context.Background()

	o, err := ex.PlaceOrder(ctx, order.Request{Side: order.SideBuy, Type: "EXCHANGE LIMIT", Price: dec("40"), Amount: dec("1.25")})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if o.Status != order.StatusActive || o.ID == "" {
		t.Errorf("限价单应挂单: %+v", o)
	}
	bal, _ := ex.GetBalances(ctx)
	if !bal.Quote.IsZero() {
		t.Errorf("挂单应冻结全部计价币, 剩余 %s", bal.Quote)
	}

	ex.OnMarketTick(tick("41"))
	if open, _ := ex.GetOpenOrders(ctx); len(open) != 1 {
		t.Fatalf("价格未触及时应继续挂单, 挂单数 %d", len(open))
	}

	ex.OnMarketTick(tick("40"))
	bal, _ = ex.GetBalances(ctx)
	if !bal.Base.Equal(dec("1.25")) {
		t.Errorf("成交后应持有 1.25, 得到 %s", bal.Base)
	}
	if len(*updates) != 2 || (*updates)[1].Status != order.StatusExecuted {
		t.Fatalf("应推送 ACTIVE 和 EXECUTED, 得到 %+v", *updates)
	}
	trades, _ := ex.GetPastTrades(ctx, "")
	if len(trades) != 1 || trades[0].Source != order.SourceRestPast {
		t.Errorf("历史成交错误: %+v", trades)
	}
}

func TestFillOrKillSell(t *testing.T) {
	ex := New(Config{Symbol: "tBTCUSD", StartBase: dec("1"), StartQuote: decimal.Zero}, nil)
	ctx := context.Background()
	ex.OnMarketTick(tick("100"))

	killed, err := ex.PlaceOrder(ctx, order.Request{Side: order.SideSell, Type: "EXCHANGE FOK", Price: dec("101"), Amount: dec("1")})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if killed.Status != order.StatusCancelled {
		t.Errorf("高于最新价的 FOK 卖单应被撤销, 得到 %s", killed.Status)
	}
	if bal, _ := ex.GetBalances(ctx); !bal.Base.Equal(dec("1")) {
		t.Errorf("撤销后应退回冻结, 得到 %s", bal.Base)
	}

	filled, err := ex.PlaceOrder(ctx, order.Request{Side: order.SideSell, Type: "EXCHANGE FOK", Price: dec("99.9"), Amount: dec("1")})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if filled.Status != order.StatusExecuted {
		t.Errorf("FOK 卖单应成交, 得到 %s", filled.Status)
	}
	if bal, _ := ex.GetBalances(ctx); !bal.Quote.Equal(dec("99.9")) {
		t.Errorf("成交后计价币应为 99.9, 得到 %s", bal.Quote)
	}
}

func TestReplaceKeepsID(t *testing.T) {
	ex, _ := newPaper()
	ctx := context.Background()

	o, err := ex.PlaceOrder(ctx, order.Request{Side: order.SideBuy, Type: "EXCHANGE LIMIT", Price: dec("40"), Amount: dec("1")})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	r, err := ex.ReplaceOrder(ctx, o.ID, order.Request{Side: order.SideBuy, Price: dec("45"), Amount: dec("0.8")})
	if err != nil {
		t.Fatalf("改单失败: %v", err)
	}
	if r.ID != o.ID || !r.Price.Equal(dec("45")) {
		t.Errorf("改单应保留订单号并更新价格: %+v", r)
	}
	if bal, _ := ex.GetBalances(ctx); !bal.Quote.Equal(dec("14")) {
		t.Errorf("改单后冻结 36, 剩余应为 14, 得到 %s", bal.Quote)
	}

	if _, err := ex.ReplaceOrder(ctx, "missing", order.Request{Side: order.SideBuy, Price: dec("1"), Amount: dec("1")}); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("改不存在的订单应返回 ErrOrderNotFound, 得到 %v", err)
	}
}

func TestInsufficientBalance(t *testing.T) {
	ex, _ := newPaper()
	_, err := ex.PlaceOrder(context.Background(), order.Request{Side: order.SideBuy, Type: "EXCHANGE LIMIT", Price: dec("40"), Amount: dec("2")})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("余额不足应返回 ErrInsufficientBalance, 得到 %v", err)
	}
}
