package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"spottrader/storage"
	"spottrader/utils"
)

// GormStore 基于 GORM 的存储实现（storage.type=gorm）
type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ storage.Storage = (*GormStore)(nil)

// NewGormStore 创建 GORM 存储
func NewGormStore(config *Config) (*GormStore, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		if dir := filepath.Dir(config.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&storage.TraderState{},
		&storage.OrderRecord{},
		&storage.EventRecord{},
		&storage.LogRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormStore{db: db, timeout: 5 * time.Second}, nil
}

func (g *GormStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// SaveTraderState 保存交易状态快照
func (g *GormStore) SaveTraderState(state *storage.TraderState) error {
	ctx, cancel := g.ctx()
	defer cancel()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = utils.NowUTC()
	}
	return g.db.WithContext(ctx).Create(state).Error
}

// GetLastTraderState 读取最新快照，没有记录时返回 nil, nil
func (g *GormStore) GetLastTraderState(symbol string) (*storage.TraderState, error) {
	ctx, cancel := g.ctx()
	defer cancel()

	var state storage.TraderState
	err := g.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("id DESC").
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveOrderUpdate 保存订单更新
func (g *GormStore) SaveOrderUpdate(record *storage.OrderRecord) error {
	ctx, cancel := g.ctx()
	defer cancel()
	return g.db.WithContext(ctx).Create(record).Error
}

// QueryOrderUpdates 按时间倒序查询订单更新
func (g *GormStore) QueryOrderUpdates(symbol string, limit int) ([]*storage.OrderRecord, error) {
	ctx, cancel := g.ctx()
	defer cancel()
	if limit <= 0 {
		limit = 50
	}

	var records []*storage.OrderRecord
	if err := g.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// SaveEvent 保存事件
func (g *GormStore) SaveEvent(eventType string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件数据失败: %w", err)
	}
	ctx, cancel := g.ctx()
	defer cancel()
	return g.db.WithContext(ctx).Create(&storage.EventRecord{
		EventType: eventType,
		Data:      string(raw),
		CreatedAt: utils.NowUTC(),
	}).Error
}

// SaveLog 保存日志
func (g *GormStore) SaveLog(record *storage.LogRecord) error {
	ctx, cancel := g.ctx()
	defer cancel()
	return g.db.WithContext(ctx).Create(record).Error
}

// Ping 健康检查
func (g *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
