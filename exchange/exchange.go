package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/order"
)

// Balances 可用余额
type Balances struct {
	Base  decimal.Decimal `json:"base"`
	Quote decimal.Decimal `json:"quote"`
}

// Fees 费率（小数，0.001 表示 0.1%）
type Fees struct {
	Maker decimal.Decimal `json:"maker"`
	Taker decimal.Decimal `json:"taker"`
}

// Feed 行情与订单推送
type Feed interface {
	// SetHandlers 注册回调，必须在 Subscribe 之前调用
	SetHandlers(onTick func(average.Tick), onOrder func(order.Order))
	Subscribe(ctx context.Context, pair string) error
	Authenticate(ctx context.Context) error
}

// Commands 账户命令与查询
type Commands interface {
	PlaceOrder(ctx context.Context, req order.Request) (order.Order, error)
	ReplaceOrder(ctx context.Context, id string, req order.Request) (order.Order, error)
	GetBalances(ctx context.Context) (Balances, error)
	GetFees(ctx context.Context) (Fees, error)
	GetOpenOrders(ctx context.Context) ([]order.Order, error)
	GetPastTrades(ctx context.Context, pair string) ([]order.Order, error)
}

// Exchange 交易所
type Exchange interface {
	Feed
	Commands
	GetName() string
	Close() error
}
