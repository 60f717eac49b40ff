package bitfinex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spottrader/average"
	"spottrader/errs"
	"spottrader/logger"
	"spottrader/order"
)

const pastTradesLimit = 25

// Adapter Bitfinex 适配器
type Adapter struct {
	client *BitfinexClient
	ws     *WebSocketManager
	cfg    Config
}

// NewBitfinexAdapter 创建 Bitfinex 适配器
func NewBitfinexAdapter(cfg Config, reconnectDelay time.Duration) (*Adapter, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("Bitfinex API key and secret key are required")
	}
	if cfg.WSAPIKey == "" {
		cfg.WSAPIKey = cfg.APIKey
	}
	if cfg.WSSecretKey == "" {
		cfg.WSSecretKey = cfg.SecretKey
	}
	cfg.Symbol = ConvertToBitfinexSymbol(cfg.Symbol)
	if cfg.BaseAsset == "" || cfg.QuoteAsset == "" {
		cfg.BaseAsset, cfg.QuoteAsset = splitPair(cfg.Symbol)
	}

	logger.Info("Bitfinex adapter ready: symbol=%s base=%s quote=%s", cfg.Symbol, cfg.BaseAsset, cfg.QuoteAsset)

	return &Adapter{
		client: NewBitfinexClient(cfg.APIKey, cfg.SecretKey, cfg.RESTURL),
		ws:     NewWebSocketManager(cfg.WSURL, cfg.WSAPIKey, cfg.WSSecretKey, reconnectDelay),
		cfg:    cfg,
	}, nil
}

// ConvertToBitfinexSymbol BTCUSD / btcusd / BTC/USD -> tBTCUSD
func ConvertToBitfinexSymbol(symbol string) string {
	if strings.HasPrefix(symbol, "t") && len(symbol) > 1 && strings.ToUpper(symbol[1:]) == symbol[1:] {
		return symbol
	}
	s := strings.ToUpper(symbol)
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return "t" + s
}

// splitPair tBTCUSD -> BTC, USD；长名称使用 tTESTBTC:TESTUSD 格式
func splitPair(symbol string) (string, string) {
	s := strings.TrimPrefix(symbol, "t")
	if i := strings.Index(s, ":"); i >= 0 {
		return s[:i], s[i+1:]
	}
	if len(s) == 6 {
		return s[:3], s[3:]
	}
	return s, "USD"
}

// GetName 获取交易所名称
func (a *Adapter) GetName() string {
	return "bitfinex"
}

// Symbol 交易所格式的交易对
func (a *Adapter) Symbol() string {
	return a.cfg.Symbol
}

// SetHandlers 注册行情和订单回调
func (a *Adapter) SetHandlers(onTick func(average.Tick), onOrder func(order.Order)) {
	a.ws.SetHandlers(onTick, onOrder)
}

// SetReconnectHook 注册重连回调
func (a *Adapter) SetReconnectHook(fn func()) {
	a.ws.SetReconnectHook(fn)
}

// Subscribe 订阅公共成交
func (a *Adapter) Subscribe(ctx context.Context, pair string) error {
	if pair == "" {
		pair = a.cfg.Symbol
	}
	if err := a.ws.Subscribe(ctx, ConvertToBitfinexSymbol(pair)); err != nil {
		return errs.Transport("ws.subscribe", err)
	}
	return nil
}

// Authenticate 认证账户频道
func (a *Adapter) Authenticate(ctx context.Context) error {
	if err := a.ws.Authenticate(ctx); err != nil {
		return errs.Transport("ws.auth", err)
	}
	return nil
}

// wrap 解析错误原样返回，其余视为传输错误
func wrap(op string, err error) error {
	if err == nil || errs.IsParse(err) {
		return err
	}
	return errs.Transport(op, err)
}

// PlaceOrder 下单
func (a *Adapter) PlaceOrder(ctx context.Context, req order.Request) (order.Order, error) {
	req.Symbol = a.cfg.Symbol
	o, err := a.client.SubmitOrder(ctx, req)
	if err != nil {
		return order.Order{}, wrap("order.submit", err)
	}
	o.Side = req.Side
	return o, nil
}

// ReplaceOrder 改单
func (a *Adapter) ReplaceOrder(ctx context.Context, id string, req order.Request) (order.Order, error) {
	req.Symbol = a.cfg.Symbol
	o, err := a.client.UpdateOrder(ctx, id, req)
	if err != nil {
		return order.Order{}, wrap("order.update", err)
	}
	o.Side = req.Side
	return o, nil
}

// GetBalances 查询余额
func (a *Adapter) GetBalances(ctx context.Context) (Balances, error) {
	bal, err := a.client.Wallets(ctx, a.cfg.BaseAsset, a.cfg.QuoteAsset)
	return bal, wrap("wallets", err)
}

// GetFees 查询手续费
func (a *Adapter) GetFees(ctx context.Context) (Fees, error) {
	fees, err := a.client.Summary(ctx, a.cfg.PercentUnits)
	return fees, wrap("summary", err)
}

// GetOpenOrders 查询当前交易对挂单
func (a *Adapter) GetOpenOrders(ctx context.Context) ([]order.Order, error) {
	orders, err := a.client.ActiveOrders(ctx, a.cfg.Symbol)
	if err != nil {
		return nil, wrap("orders", err)
	}
	out := orders[:0]
	for _, o := range orders {
		if o.Symbol == "" || o.Symbol == a.cfg.Symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetPastTrades 查询历史成交
func (a *Adapter) GetPastTrades(ctx context.Context, pair string) ([]order.Order, error) {
	if pair == "" {
		pair = a.cfg.Symbol
	}
	trades, err := a.client.PastTrades(ctx, ConvertToBitfinexSymbol(pair), pastTradesLimit)
	return trades, wrap("trades", err)
}

// Close 关闭 WebSocket
func (a *Adapter) Close() error {
	a.ws.Stop()
	return nil
}
