package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid 是否为合法方向
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Status 订单状态
type Status string

const (
	StatusNew       Status = "NEW"
	StatusActive    Status = "ACTIVE"
	StatusExecuted  Status = "EXECUTED"
	StatusCancelled Status = "CANCELLED"
	StatusUnknown   Status = "UNKNOWN"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// ParseStatus 解析交易所状态字符串，如 "EXECUTED @ 107.6(-0.2)"、"PARTIALLY FILLED @ ..."、
// "FILLORKILL CANCELED"、"RSN_DUST"。被交易所撤销或拒绝的订单一律视为已取消
func ParseStatus(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case s == "":
		return StatusUnknown
	case strings.HasPrefix(s, "EXECUTED"):
		return StatusExecuted
	case strings.Contains(s, "CANCELED"), strings.Contains(s, "CANCELLED"),
		strings.Contains(s, "RSN_"), strings.HasPrefix(s, "INSUFFICIENT"),
		strings.Contains(s, "WAS: PARTIALLY FILLED"):
		return StatusCancelled
	case strings.HasPrefix(s, "ACTIVE"), strings.HasPrefix(s, "PARTIALLY FILLED"):
		return StatusActive
	case strings.HasPrefix(s, "NEW"):
		return StatusNew
	default:
		return StatusUnknown
	}
}

// Source 订单数据来源
type Source string

const (
	SourceSocket     Source = "socket"      // 推送快照/更新
	SourceRestActive Source = "rest_active" // REST 当前挂单
	SourceRestPast   Source = "rest_past"   // REST 历史成交
	SourceRequest    Source = "request"     // 本地构造的请求
)

// Order 订单（不可变值对象，状态变化通过替换整个值表示）
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Type      string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	Source    Source          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasID 是否带有交易所订单号
func (o Order) HasID() bool {
	return o.ID != ""
}

// Notional 名义价值 price*amount
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Amount)
}

// WithStatus 返回状态替换后的副本
func (o Order) WithStatus(status Status) Order {
	o.Status = status
	return o
}

func (o Order) String() string {
	id := o.ID
	if id == "" {
		id = "-"
	}
	return fmt.Sprintf("%s %s %s@%s [%s]", id, o.Side, o.Amount.String(), o.Price.String(), o.Status)
}

// Request 下单请求（尚无订单号）
type Request struct {
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	Side     Side            `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Quote    decimal.Decimal `json:"quote"` // 买单计划花费的计价币数量，仅用于记录
	Reason   string          `json:"reason"`
}

// Wire 跨边界传输的订单形态，价格和数量都是十进制字符串
type Wire struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    string `json:"price"`
	Amount   string `json:"amount"`
}

// Wire 转换为传输形态
func (r Request) Wire() Wire {
	return Wire{
		Symbol:   r.Symbol,
		Exchange: r.Exchange,
		Side:     string(r.Side),
		Type:     r.Type,
		Price:    r.Price.String(),
		Amount:   r.Amount.String(),
	}
}

// FromRequest 交易所确认下单后，用请求和订单号构造订单
func FromRequest(req Request, id string, status Status, at time.Time) Order {
	return Order{
		ID:        id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Amount:    req.Amount,
		Status:    status,
		Source:    SourceRequest,
		UpdatedAt: at,
	}
}

// Slot 可为空的订单槽位，区分“无订单”和“有订单”
type Slot struct {
	order Order
	ok    bool
}

// Some 有订单的槽位
func Some(o Order) Slot { return Slot{order: o, ok: true} }

// None 空槽位
func None() Slot { return Slot{} }

// Get 取出订单
func (s Slot) Get() (Order, bool) { return s.order, s.ok }

// IsSet 槽位是否有订单
func (s Slot) IsSet() bool { return s.ok }

// MatchesID 槽位订单号是否与 id 相同
func (s Slot) MatchesID(id string) bool {
	return s.ok && id != "" && s.order.ID == id
}

func (s Slot) String() string {
	if !s.ok {
		return "<none>"
	}
	return s.order.String()
}

// MarshalJSON 空槽位序列化为 null
func (s Slot) MarshalJSON() ([]byte, error) {
	if !s.ok {
		return []byte("null"), nil
	}
	return json.Marshal(s.order)
}

// UnmarshalJSON 解析 null 或订单对象
func (s *Slot) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*s = None()
		return nil
	}
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	*s = Some(o)
	return nil
}
