package bitfinex

import (
	"github.com/shopspring/decimal"
)

// 订单类型
const (
	OrderTypeExchangeLimit  = "EXCHANGE LIMIT"
	OrderTypeExchangeMarket = "EXCHANGE MARKET"
	OrderTypeExchangeFOK    = "EXCHANGE FOK"
)

// 钱包类型
const walletExchange = "exchange"

// Balances exchange 钱包可用余额
type Balances struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// Fees 账户手续费率
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Config 适配器配置
type Config struct {
	APIKey       string
	SecretKey    string
	WSAPIKey     string // 为空时使用 APIKey
	WSSecretKey  string // 为空时使用 SecretKey
	Symbol       string // tBTCUSD
	BaseAsset    string // BTC
	QuoteAsset   string // USD
	RESTURL      string
	WSURL        string
	PercentUnits bool // 手续费以百分比返回时除以 100
}

// 订单数组下标（REST 与 WS 相同）
const (
	orderIdxID         = 0
	orderIdxSymbol     = 3
	orderIdxMTSUpdate  = 5
	orderIdxAmount     = 6
	orderIdxAmountOrig = 7
	orderIdxType       = 8
	orderIdxStatus     = 13
	orderIdxPrice      = 16
	orderIdxPriceAvg   = 17
	orderMinLen        = 18
)

// 历史成交数组下标
const (
	tradeIdxPair       = 1
	tradeIdxMTS        = 2
	tradeIdxOrderID    = 3
	tradeIdxExecAmount = 4
	tradeIdxExecPrice  = 5
	tradeIdxOrderType  = 6
	tradeMinLen        = 7
)

// 公共成交数组下标 [ID, MTS, AMOUNT, PRICE]
const (
	publicTradeIdxMTS    = 1
	publicTradeIdxAmount = 2
	publicTradeIdxPrice  = 3
	publicTradeMinLen    = 4
)
