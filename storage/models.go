package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"spottrader/order"
	"spottrader/utils"
)

// TraderState 交易状态快照（余额 + 阈值），启动时读取最新一条
type TraderState struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol         string          `gorm:"index;size:32" json:"symbol"`
	BalanceQuote   decimal.Decimal `gorm:"type:varchar(64)" json:"balance_quote"`
	BalanceBase    decimal.Decimal `gorm:"type:varchar(64)" json:"balance_base"`
	ResistanceZone decimal.Decimal `gorm:"type:varchar(64)" json:"resistance_zone"`
	SupportZone    decimal.Decimal `gorm:"type:varchar(64)" json:"support_zone"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}

func (TraderState) TableName() string { return "trader_states" }

// OrderRecord 订单更新审计记录（每次推送一条）
type OrderRecord struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   string          `gorm:"index;size:64" json:"order_id"`
	Symbol    string          `gorm:"index;size:32" json:"symbol"`
	Side      string          `gorm:"size:8" json:"side"`
	Type      string          `gorm:"size:32" json:"type"`
	Price     decimal.Decimal `gorm:"type:varchar(64)" json:"price"`
	Amount    decimal.Decimal `gorm:"type:varchar(64)" json:"amount"`
	Status    string          `gorm:"index;size:16" json:"status"`
	Source    string          `gorm:"size:16" json:"source"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

func (OrderRecord) TableName() string { return "order_updates" }

// NewOrderRecord 由订单生成审计记录
func NewOrderRecord(o order.Order) *OrderRecord {
	at := o.UpdatedAt
	if at.IsZero() {
		at = utils.NowUTC()
	}
	return &OrderRecord{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Type:      o.Type,
		Price:     o.Price,
		Amount:    o.Amount,
		Status:    string(o.Status),
		Source:    string(o.Source),
		CreatedAt: utils.ToUTC(at),
	}
}

// EventRecord 事件记录，Data 为 JSON
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType string    `gorm:"index;size:32" json:"event_type"`
	Data      string    `gorm:"type:text" json:"data"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (EventRecord) TableName() string { return "events" }

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Level     string    `gorm:"index;size:8" json:"level"`
	Message   string    `gorm:"type:text" json:"message"`
}

func (LogRecord) TableName() string { return "logs" }
