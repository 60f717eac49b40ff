package quant

import (
	"github.com/shopspring/decimal"
)

// DefaultAmountDecimals 交易所数量最大精度
const DefaultAmountDecimals int32 = 8

// Quantizer 价格/数量规整器
// 所有比较和下单前的价格、数量都必须经过它，截断而非四舍五入，避免越过可成交价格
type Quantizer struct {
	SignificantDigits int32           // 价格有效数字位数（Bitfinex 为 5），0 表示不限制
	TickSize          decimal.Decimal // 最小价格变动单位，0 表示不限制
	AmountDecimals    int32           // 数量小数位数
}

// New 创建规整器
func New(significantDigits int32, tickSize decimal.Decimal, amountDecimals int32) Quantizer {
	if amountDecimals <= 0 {
		amountDecimals = DefaultAmountDecimals
	}
	return Quantizer{
		SignificantDigits: significantDigits,
		TickSize:          tickSize,
		AmountDecimals:    amountDecimals,
	}
}

// Price 规整价格
func (q Quantizer) Price(x decimal.Decimal) decimal.Decimal {
	if x.IsZero() {
		return x
	}
	out := truncateSignificant(x, q.SignificantDigits)
	if q.TickSize.IsPositive() {
		steps, _ := out.QuoRem(q.TickSize, 0)
		out = steps.Mul(q.TickSize)
	}
	return out
}

// Amount 规整数量
func (q Quantizer) Amount(x decimal.Decimal) decimal.Decimal {
	decimals := q.AmountDecimals
	if decimals <= 0 {
		decimals = DefaultAmountDecimals
	}
	return x.Truncate(decimals)
}

// Compare 比较两个规整后的价格，返回 -1/0/1
func (q Quantizer) Compare(a, b decimal.Decimal) int {
	return q.Price(a).Cmp(q.Price(b))
}

// truncateSignificant 截断到指定有效数字
func truncateSignificant(x decimal.Decimal, digits int32) decimal.Decimal {
	if digits <= 0 || x.IsZero() {
		return x
	}
	abs := x.Abs()
	// 整数部分位数，小于 1 时为 0 或负数（前导零个数的相反数）
	magnitude := int32(len(abs.Coefficient().String())) + abs.Exponent()
	return x.RoundDown(digits - magnitude)
}
