package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/config"
	"spottrader/exchange/bitfinex"
	"spottrader/exchange/paper"
	"spottrader/metrics"
)

// NewExchange 根据配置创建交易所实例。模拟盘使用 Bitfinex 公共成交流撮合。
func NewExchange(cfg *config.Config) (Exchange, error) {
	reconnectDelay := time.Duration(cfg.Timing.WebSocketReconnectDelay) * time.Second
	exchangeName := cfg.App.CurrentExchange
	exchangeCfg := cfg.Exchanges[exchangeName]

	if cfg.App.Mode == config.ModePaper {
		source := bitfinex.NewWebSocketManager(exchangeCfg.WSURL, "", "", reconnectDelay)
		source.SetReconnectHook(func() {
			metrics.GetPrometheusMetrics().RecordWebSocketReconnect("paper")
		})
		ex := paper.New(paper.Config{
			Symbol:     bitfinex.ConvertToBitfinexSymbol(cfg.Trading.Symbol),
			StartBase:  decimal.NewFromFloat(cfg.Paper.StartBase),
			StartQuote: decimal.NewFromFloat(cfg.Paper.StartQuote),
			MakerFee:   decimal.NewFromFloat(cfg.Fees.Maker),
			TakerFee:   decimal.NewFromFloat(cfg.Fees.Taker),
		}, source)
		return &paperWrapper{Exchange: ex}, nil
	}

	switch exchangeName {
	case "bitfinex":
		adapter, err := bitfinex.NewBitfinexAdapter(bitfinex.Config{
			APIKey:       exchangeCfg.APIKey,
			SecretKey:    exchangeCfg.SecretKey,
			WSAPIKey:     exchangeCfg.WSAPIKey,
			WSSecretKey:  exchangeCfg.WSSecretKey,
			Symbol:       cfg.Trading.Symbol,
			BaseAsset:    cfg.Trading.BaseAsset,
			QuoteAsset:   cfg.Trading.QuoteAsset,
			RESTURL:      exchangeCfg.RESTURL,
			WSURL:        exchangeCfg.WSURL,
			PercentUnits: cfg.Fees.PercentUnits,
		}, reconnectDelay)
		if err != nil {
			return nil, err
		}
		adapter.SetReconnectHook(func() {
			metrics.GetPrometheusMetrics().RecordWebSocketReconnect("bitfinex")
		})
		return &bitfinexWrapper{Adapter: adapter}, nil

	default:
		return nil, fmt.Errorf("不支持的交易所: %s", exchangeName)
	}
}
