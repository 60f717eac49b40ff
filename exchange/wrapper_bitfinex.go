package exchange

import (
	"context"

	"spottrader/exchange/bitfinex"
)

// bitfinexWrapper Bitfinex 包装器
type bitfinexWrapper struct {
	*bitfinex.Adapter
}

// GetBalances 获取余额
func (w *bitfinexWrapper) GetBalances(ctx context.Context) (Balances, error) {
	b, err := w.Adapter.GetBalances(ctx)
	if err != nil {
		return Balances{}, err
	}
	return Balances{Base: b.Base, Quote: b.Quote}, nil
}

// GetFees 获取费率
func (w *bitfinexWrapper) GetFees(ctx context.Context) (Fees, error) {
	f, err := w.Adapter.GetFees(ctx)
	if err != nil {
		return Fees{}, err
	}
	return Fees{Maker: f.Maker, Taker: f.Taker}, nil
}
