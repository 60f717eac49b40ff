package database

import (
	"fmt"
	"time"

	"spottrader/config"
)

// Config 数据库配置
type Config struct {
	Type            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// ConfigFrom 从应用配置中提取数据库配置
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.Database.LogLevel,
	}
}

// NewStore 根据配置创建 GORM 存储
func NewStore(config *Config) (*GormStore, error) {
	switch config.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
		return NewGormStore(config)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}
