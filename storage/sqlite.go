package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"spottrader/utils"
)

// SQLiteStorage SQLite 存储实现
type SQLiteStorage struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStorage 创建 SQLite 存储
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite 并发限制
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// createTables 创建表。十进制数值按字符串保存，避免浮点误差
func createTables(db *sql.DB) error {
	traderStatesSQL := `
	CREATE TABLE IF NOT EXISTS trader_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		balance_quote TEXT NOT NULL,
		balance_base TEXT NOT NULL,
		resistance_zone TEXT NOT NULL,
		support_zone TEXT NOT NULL,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trader_states_symbol ON trader_states(symbol);`

	orderUpdatesSQL := `
	CREATE TABLE IF NOT EXISTS order_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT,
		symbol TEXT,
		side TEXT,
		type TEXT,
		price TEXT,
		amount TEXT,
		status TEXT,
		source TEXT,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_order_updates_order_id ON order_updates(order_id);
	CREATE INDEX IF NOT EXISTS idx_order_updates_symbol ON order_updates(symbol);`

	eventsSQL := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT,
		data TEXT,
		created_at TIMESTAMP
	);`

	logsSQL := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);`

	for _, stmt := range []string{traderStatesSQL, orderUpdatesSQL, eventsSQL, logsSQL} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTraderState 保存交易状态快照
func (s *SQLiteStorage) SaveTraderState(state *TraderState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = utils.NowUTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO trader_states (symbol, balance_quote, balance_base, resistance_zone, support_zone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, state.Symbol, state.BalanceQuote.String(), state.BalanceBase.String(),
		state.ResistanceZone.String(), state.SupportZone.String(), utils.ToUTC(state.CreatedAt))
	return err
}

// GetLastTraderState 读取最新快照，没有记录时返回 nil, nil
func (s *SQLiteStorage) GetLastTraderState(symbol string) (*TraderState, error) {
	row := s.db.QueryRow(`
		SELECT id, symbol, balance_quote, balance_base, resistance_zone, support_zone, created_at
		FROM trader_states
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT 1
	`, symbol)

	state := &TraderState{}
	err := row.Scan(&state.ID, &state.Symbol, &state.BalanceQuote, &state.BalanceBase,
		&state.ResistanceZone, &state.SupportZone, &state.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询交易状态失败: %w", err)
	}
	return state, nil
}

// SaveOrderUpdate 保存订单更新
func (s *SQLiteStorage) SaveOrderUpdate(record *OrderRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO order_updates (order_id, symbol, side, type, price, amount, status, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.OrderID, record.Symbol, record.Side, record.Type, record.Price.String(),
		record.Amount.String(), record.Status, record.Source, utils.ToUTC(record.CreatedAt))
	return err
}

// QueryOrderUpdates 按时间倒序查询订单更新
func (s *SQLiteStorage) QueryOrderUpdates(symbol string, limit int) ([]*OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, order_id, symbol, side, type, price, amount, status, source, created_at
		FROM order_updates
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("查询订单更新失败: %w", err)
	}
	defer rows.Close()

	var records []*OrderRecord
	for rows.Next() {
		r := &OrderRecord{}
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Symbol, &r.Side, &r.Type, &r.Price,
			&r.Amount, &r.Status, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析订单更新失败: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveEvent 保存事件
func (s *SQLiteStorage) SaveEvent(eventType string, data map[string]interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件数据失败: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO events (event_type, data, created_at)
		VALUES (?, ?, ?)
	`, eventType, string(jsonData), utils.NowUTC())
	return err
}

// SaveLog 保存日志
func (s *SQLiteStorage) SaveLog(record *LogRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO logs (timestamp, level, message)
		VALUES (?, ?, ?)
	`, utils.ToUTC(record.Timestamp), record.Level, record.Message)
	return err
}

// Close 关闭存储
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
