package exchange

import (
	"context"

	"spottrader/exchange/paper"
)

// paperWrapper 模拟盘包装器
type paperWrapper struct {
	*paper.Exchange
}

// GetBalances 获取余额
func (w *paperWrapper) GetBalances(ctx context.Context) (Balances, error) {
	b, err := w.Exchange.GetBalances(ctx)
	if err != nil {
		return Balances{}, err
	}
	return Balances{Base: b.Base, Quote: b.Quote}, nil
}

// GetFees 获取费率
func (w *paperWrapper) GetFees(ctx context.Context) (Fees, error) {
	f, err := w.Exchange.GetFees(ctx)
	if err != nil {
		return Fees{}, err
	}
	return Fees{Maker: f.Maker, Taker: f.Taker}, nil
}
