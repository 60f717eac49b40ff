package engine

import (
	"github.com/shopspring/decimal"

	"spottrader/order"
)

// BusyPolicy 活动订单占用判定
type BusyPolicy string

const (
	BusyAny  BusyPolicy = "any"  // 任意一侧有活动订单即占用
	BusyBoth BusyPolicy = "both" // 买卖两侧同时有活动订单才占用
)

// TradingState 交易状态，只由事件循环修改
type TradingState struct {
	BalanceQuote decimal.Decimal `json:"balance_quote"`
	BalanceBase  decimal.Decimal `json:"balance_base"`
	LastBuy      order.Slot      `json:"last_buy"`
	LastSell     order.Slot      `json:"last_sell"`
	ActiveBuy    order.Slot      `json:"active_buy"`
	ActiveSell   order.Slot      `json:"active_sell"`
}

// Busy 是否因活动订单而暂停新下单
func (s TradingState) Busy(policy BusyPolicy) bool {
	if policy == BusyBoth {
		return s.ActiveBuy.IsSet() && s.ActiveSell.IsSet()
	}
	return s.ActiveBuy.IsSet() || s.ActiveSell.IsSet()
}

// setActive 设置对应方向的活动订单
func (s *TradingState) setActive(o order.Order) {
	if o.Side == order.SideBuy {
		s.ActiveBuy = order.Some(o)
	} else {
		s.ActiveSell = order.Some(o)
	}
}

// setLast 记录对应方向最近一次成交
func (s *TradingState) setLast(o order.Order) {
	if o.Side == order.SideBuy {
		s.LastBuy = order.Some(o)
	} else {
		s.LastSell = order.Some(o)
	}
}

// vacate 清空持有该订单号的活动槽位，返回是否有槽位被清空
func (s *TradingState) vacate(id string) bool {
	cleared := false
	if s.ActiveBuy.MatchesID(id) {
		s.ActiveBuy = order.None()
		cleared = true
	}
	if s.ActiveSell.MatchesID(id) {
		s.ActiveSell = order.None()
		cleared = true
	}
	return cleared
}
