package config

import (
	"fmt"
	"strings"
	"sync"
)

// HotReloader 配置热更新器
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调，changes 只包含可热更新的变更
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{currentConfig: initialConfig}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 应用可热更新的变更。需要重启的变更不会生效，只在返回的差异里标出。
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)

	hot := make([]ConfigChange, 0, len(diff.Changes))
	for _, change := range diff.Changes {
		if !change.RequiresRestart {
			hot = append(hot, change)
		}
	}
	if len(hot) == 0 {
		return diff, nil
	}

	merged := cloneConfig(hr.currentConfig)
	for _, change := range hot {
		copyHotField(merged, newConfig, change.Path)
	}

	for _, callback := range hr.updateCallbacks {
		if err := callback(hr.currentConfig, merged, hot); err != nil {
			return nil, fmt.Errorf("配置更新回调执行失败: %v", err)
		}
	}

	hr.currentConfig = merged
	return diff, nil
}

// GetCurrentConfig 获取当前配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

func copyHotField(dest, src *Config, path string) {
	switch {
	case path == "trading.risk":
		dest.Trading.Risk = src.Trading.Risk
	case path == "trading.max_loss":
		dest.Trading.MaxLoss = src.Trading.MaxLoss
	case path == "trading.min_gain":
		dest.Trading.MinGain = src.Trading.MinGain
	case path == "trading.sell_offset":
		dest.Trading.SellOffset = src.Trading.SellOffset
	case path == "trading.support_margin":
		dest.Trading.SupportMargin = src.Trading.SupportMargin
	case path == "trading.max_drop_fallback":
		dest.Trading.MaxDropFallback = src.Trading.MaxDropFallback
	case path == "trading.max_wait_ms":
		dest.Trading.MaxWaitMs = src.Trading.MaxWaitMs
	case path == "fees.maker":
		dest.Fees.Maker = src.Fees.Maker
	case path == "fees.taker":
		dest.Fees.Taker = src.Fees.Taker
	case path == "system.log_level":
		dest.System.LogLevel = src.System.LogLevel
	case strings.HasPrefix(path, "notifications.rules"):
		dest.Notifications.Rules = src.Notifications.Rules
	}
}

// cloneConfig 复制配置，exchanges 映射单独复制
func cloneConfig(cfg *Config) *Config {
	out := *cfg
	if cfg.Exchanges != nil {
		out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
		for k, v := range cfg.Exchanges {
			out.Exchanges[k] = v
		}
	}
	return &out
}
