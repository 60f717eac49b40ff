package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 运行模式
const (
	ModeLive  = "live"  // 实盘
	ModePaper = "paper" // 模拟盘，订单不离开进程
)

// 占用判定方式
const (
	BusyAny  = "any"  // 任意一侧有挂单即视为占用
	BusyBoth = "both" // 买卖两侧都有挂单才视为占用（旧行为）
)

// Config 现货交易机器人配置
type Config struct {
	// 应用配置
	App struct {
		Mode            string `yaml:"mode"`             // live / paper
		CurrentExchange string `yaml:"current_exchange"` // 当前使用的交易所
	} `yaml:"app"`

	// 多交易所配置
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading TradingConfig `yaml:"trading"`

	// 手续费（启动时以交易所返回为准，失败时使用这里的默认值）
	Fees struct {
		Maker        float64 `yaml:"maker"`         // 默认挂单费率（默认0.001）
		Taker        float64 `yaml:"taker"`         // 默认吃单费率（默认0.002）
		PercentUnits bool    `yaml:"percent_units"` // 交易所返回百分比时除以100
	} `yaml:"fees"`

	// 模拟盘初始资金
	Paper struct {
		StartBase  float64 `yaml:"start_base"`
		StartQuote float64 `yaml:"start_quote"` // 默认1000
	} `yaml:"paper"`

	System struct {
		LogLevel string `yaml:"log_level"`
		Timezone string `yaml:"timezone"` // 时区，如 "Asia/Shanghai"
		LogDir   string `yaml:"log_dir"`  // DEBUG 级别时的日志文件目录（默认 logs）
	} `yaml:"system"`

	// 存储配置
	Storage struct {
		Enabled          bool   `yaml:"enabled"`
		Type             string `yaml:"type"`              // sqlite / gorm
		Path             string `yaml:"path"`              // 数据库文件路径
		BufferSize       int    `yaml:"buffer_size"`       // 缓冲区大小（默认1000）
		BatchSize        int    `yaml:"batch_size"`        // 批量写入大小（默认100）
		FlushInterval    int    `yaml:"flush_interval"`    // 刷新间隔（秒，默认5）
		SnapshotInterval int    `yaml:"snapshot_interval"` // 交易状态快照间隔（秒，默认30）
	} `yaml:"storage"`

	// 数据库配置（storage.type=gorm 时使用，支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 默认 ./data/spottrader.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 默认10
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 默认5
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒，默认3600
		LogLevel        string `yaml:"log_level"`         // silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 分布式锁配置（防止多个实例同时交易同一交易对）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`
		Type       string `yaml:"type"`        // 默认 redis
		Prefix     string `yaml:"prefix"`      // 默认 "spottrader:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 秒，默认30

		Redis struct {
			Addr     string `yaml:"addr"`      // 默认 localhost:6379
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"` // 默认10
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	Metrics struct {
		Enabled         bool `yaml:"enabled"`
		CollectInterval int  `yaml:"collect_interval"` // 系统指标采集间隔（秒，默认15）
	} `yaml:"metrics"`

	// Web 服务配置
	Web struct {
		Enabled    bool   `yaml:"enabled"`
		Host       string `yaml:"host"`         // 默认 127.0.0.1
		Port       int    `yaml:"port"`         // 默认 8080
		APIKeyHash string `yaml:"api_key_hash"` // bcrypt 哈希，为空则不认证
	} `yaml:"web"`

	// 通知配置
	Notifications struct {
		Enabled bool `yaml:"enabled"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 超时时间（秒，默认3）
		} `yaml:"webhook"`

		// 通知规则：哪些事件需要通知
		Rules struct {
			OrderPlaced  bool `yaml:"order_placed"`
			OrderFilled  bool `yaml:"order_filled"`
			StopLoss     bool `yaml:"stop_loss"`
			SubmitFailed bool `yaml:"submit_failed"`
			LockReleased bool `yaml:"lock_released"`
			System       bool `yaml:"system"`
		} `yaml:"rules"`
	} `yaml:"notifications"`

	// 时间配置（单位：秒）
	Timing struct {
		WebSocketReconnectDelay int `yaml:"websocket_reconnect_delay"` // 默认1，按指数退避
		SubmitTimeout           int `yaml:"submit_timeout"`            // 单次下单/改单超时（默认15）
		LockTimeout             int `yaml:"lock_timeout"`              // 下单锁看门狗（默认 submit_timeout 的两倍）
		BalanceTimeout          int `yaml:"balance_timeout"`           // 余额查询超时（默认10）
		BootTimeout             int `yaml:"boot_timeout"`              // 启动对账总超时（默认30）
	} `yaml:"timing"`
}

// TradingConfig 单交易对策略参数
type TradingConfig struct {
	Symbol     string `yaml:"symbol"`      // 交易对，如 tBTCUSD
	BaseAsset  string `yaml:"base_asset"`  // 默认从交易对推断
	QuoteAsset string `yaml:"quote_asset"` // 默认从交易对推断

	Risk            float64 `yaml:"risk"`              // 峰值回撤比例（默认0.02）
	MaxLoss         float64 `yaml:"max_loss"`          // 止损比例（默认0.02）
	MinGain         float64 `yaml:"min_gain"`          // 最小盈利比例（默认0.01）
	SellOffset      float64 `yaml:"sell_offset"`       // 卖单让价（默认0.001）
	SupportMargin   float64 `yaml:"support_margin"`    // 支撑位折价（默认等于 risk）
	MaxDropFallback float64 `yaml:"max_drop_fallback"` // 回撤价退化时的价差（默认0.1）
	MaxWaitMs       int64   `yaml:"max_wait_ms"`       // 记录峰值后最长等待（毫秒，默认1小时）
	ResolutionMs    int64   `yaml:"resolution_ms"`     // 均价时间窗口（毫秒，默认5分钟）
	MinTrades       int     `yaml:"min_trades"`        // 窗口内至少保留的成交笔数（默认10）
	MinTradeBase    float64 `yaml:"min_trade_base"`    // 最小交易数量（默认0.01）

	SignificantDigits int32   `yaml:"significant_digits"` // 价格有效数字（默认5）
	TickSize          float64 `yaml:"tick_size"`          // 最小价格变动（默认0，不限制）
	AmountDecimals    int32   `yaml:"amount_decimals"`    // 数量小数位（默认8）

	BuyType    string `yaml:"buy_type"`    // 默认 EXCHANGE LIMIT
	SellType   string `yaml:"sell_type"`   // 默认 EXCHANGE FOK
	BusyPolicy string `yaml:"busy_policy"` // any / both，默认 any
}

// ExchangeConfig 交易所配置
type ExchangeConfig struct {
	APIKey      string `yaml:"api_key"`
	SecretKey   string `yaml:"secret_key"`
	WSAPIKey    string `yaml:"ws_api_key"`    // WebSocket 独立密钥（可选）
	WSSecretKey string `yaml:"ws_secret_key"` // WebSocket 独立密钥（可选）
	RESTURL     string `yaml:"rest_url"`
	WSURL       string `yaml:"ws_url"`
}

// MaxWait 峰值最长等待
func (t TradingConfig) MaxWait() time.Duration {
	return time.Duration(t.MaxWaitMs) * time.Millisecond
}

// Resolution 均价窗口
func (t TradingConfig) Resolution() time.Duration {
	return time.Duration(t.ResolutionMs) * time.Millisecond
}

// LoadConfig 读取配置文件，应用环境变量覆盖并验证
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节解析配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("环境变量解析失败: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %v", err)
	}
	return nil
}

// ApplyEnv 环境变量覆盖：密钥 BIT_REST_KEY/BIT_REST_SECRET/BIT_WS_KEY/BIT_WS_SECRET，
// 策略参数 RISK/MAX_LOSS/MIN_GAIN/MAX_WAIT/RESOLUTION/MIN_TRADES/SELL_OFFSET
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}

	exchangeName := c.App.CurrentExchange
	if exchangeName == "" {
		exchangeName = "bitfinex"
	}
	ex := c.Exchanges[exchangeName]
	touched := false
	for env, dst := range map[string]*string{
		"BIT_REST_KEY":    &ex.APIKey,
		"BIT_REST_SECRET": &ex.SecretKey,
		"BIT_WS_KEY":      &ex.WSAPIKey,
		"BIT_WS_SECRET":   &ex.WSSecretKey,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
			touched = true
		}
	}
	if touched {
		if c.Exchanges == nil {
			c.Exchanges = make(map[string]ExchangeConfig)
		}
		c.Exchanges[exchangeName] = ex
	}

	floats := map[string]*float64{
		"RISK":        &c.Trading.Risk,
		"MAX_LOSS":    &c.Trading.MaxLoss,
		"MIN_GAIN":    &c.Trading.MinGain,
		"SELL_OFFSET": &c.Trading.SellOffset,
	}
	for env, dst := range floats {
		v, ok := lookup(env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s=%q 不是有效数字", env, v)
		}
		*dst = f
	}

	ints := map[string]*int64{
		"MAX_WAIT":   &c.Trading.MaxWaitMs,
		"RESOLUTION": &c.Trading.ResolutionMs,
	}
	for env, dst := range ints {
		v, ok := lookup(env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s=%q 不是有效整数", env, v)
		}
		*dst = n
	}

	if v, ok := lookup("MIN_TRADES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MIN_TRADES=%q 不是有效整数", v)
		}
		c.Trading.MinTrades = n
	}
	return nil
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.App.Mode == "" {
		c.App.Mode = ModeLive
	}
	if c.App.Mode != ModeLive && c.App.Mode != ModePaper {
		return fmt.Errorf("不支持的运行模式: %s (live/paper)", c.App.Mode)
	}
	if c.App.CurrentExchange == "" {
		c.App.CurrentExchange = "bitfinex"
	}

	if c.App.Mode == ModeLive {
		if len(c.Exchanges) == 0 {
			return fmt.Errorf("未配置任何交易所，请在 exchanges 中添加配置")
		}
		exchangeCfg, exists := c.Exchanges[c.App.CurrentExchange]
		if !exists {
			return fmt.Errorf("交易所 %s 的配置不存在", c.App.CurrentExchange)
		}
		if exchangeCfg.APIKey == "" || exchangeCfg.SecretKey == "" {
			return fmt.Errorf("交易所 %s 的 API 配置不完整", c.App.CurrentExchange)
		}
	}

	if err := c.Trading.validate(); err != nil {
		return err
	}

	// 手续费
	if c.Fees.Maker < 0 || c.Fees.Taker < 0 {
		return fmt.Errorf("手续费率不能为负数")
	}
	if c.Fees.Maker == 0 {
		c.Fees.Maker = 0.001
	}
	if c.Fees.Taker == 0 {
		c.Fees.Taker = 0.002
	}

	if c.Paper.StartQuote == 0 && c.Paper.StartBase == 0 {
		c.Paper.StartQuote = 1000
	}

	// 系统
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.LogDir == "" {
		c.System.LogDir = "logs"
	}

	// 存储
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Type != "sqlite" && c.Storage.Type != "gorm" {
		return fmt.Errorf("不支持的存储类型: %s (sqlite/gorm)", c.Storage.Type)
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/spottrader.db"
	}
	if c.Storage.BufferSize <= 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize <= 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.FlushInterval <= 0 {
		c.Storage.FlushInterval = 5
	}
	if c.Storage.SnapshotInterval <= 0 {
		c.Storage.SnapshotInterval = 30
	}

	// 数据库
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/spottrader.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	// 分布式锁
	if c.DistributedLock.Type == "" {
		c.DistributedLock.Type = "redis"
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "spottrader:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 30
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Metrics.CollectInterval <= 0 {
		c.Metrics.CollectInterval = 15
	}

	// Web
	if c.Web.Host == "" {
		c.Web.Host = "127.0.0.1"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 8080
	}

	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}

	// 时间
	if c.Timing.WebSocketReconnectDelay <= 0 {
		c.Timing.WebSocketReconnectDelay = 1
	}
	if c.Timing.SubmitTimeout <= 0 {
		c.Timing.SubmitTimeout = 15
	}
	if c.Timing.LockTimeout <= 0 {
		c.Timing.LockTimeout = c.Timing.SubmitTimeout * 2
	}
	if c.Timing.LockTimeout < c.Timing.SubmitTimeout {
		return fmt.Errorf("timing.lock_timeout (%d) 不能小于 submit_timeout (%d)", c.Timing.LockTimeout, c.Timing.SubmitTimeout)
	}
	if c.Timing.BalanceTimeout <= 0 {
		c.Timing.BalanceTimeout = 10
	}
	if c.Timing.BootTimeout <= 0 {
		c.Timing.BootTimeout = 30
	}

	return nil
}

// validate 策略参数校验与默认值
func (t *TradingConfig) validate() error {
	if t.Symbol == "" {
		t.Symbol = "tBTCUSD"
	}

	if t.Risk == 0 {
		t.Risk = 0.02
	}
	if t.MaxLoss == 0 {
		t.MaxLoss = 0.02
	}
	if t.MinGain == 0 {
		t.MinGain = 0.01
	}
	if t.SellOffset == 0 {
		t.SellOffset = 0.001
	}
	if t.SupportMargin == 0 {
		t.SupportMargin = t.Risk
	}
	if t.MaxDropFallback == 0 {
		t.MaxDropFallback = 0.1
	}
	for name, v := range map[string]float64{
		"risk": t.Risk, "max_loss": t.MaxLoss, "min_gain": t.MinGain,
		"sell_offset": t.SellOffset, "support_margin": t.SupportMargin,
	} {
		if v < 0 || v >= 1 {
			return fmt.Errorf("trading.%s 必须在 [0, 1) 范围内，当前 %v", name, v)
		}
	}

	if t.MaxWaitMs <= 0 {
		t.MaxWaitMs = int64(time.Hour / time.Millisecond)
	}
	if t.ResolutionMs <= 0 {
		t.ResolutionMs = int64(5 * time.Minute / time.Millisecond)
	}
	if t.MinTrades < 0 {
		return fmt.Errorf("trading.min_trades 不能为负数")
	}
	if t.MinTrades == 0 {
		t.MinTrades = 10
	}
	if t.MinTradeBase <= 0 {
		t.MinTradeBase = 0.01
	}

	if t.SignificantDigits == 0 {
		t.SignificantDigits = 5
	}
	if t.SignificantDigits < 0 {
		return fmt.Errorf("trading.significant_digits 不能为负数")
	}
	if t.TickSize < 0 {
		return fmt.Errorf("trading.tick_size 不能为负数")
	}
	if t.AmountDecimals <= 0 {
		t.AmountDecimals = 8
	}

	if t.BuyType == "" {
		t.BuyType = "EXCHANGE LIMIT"
	}
	if t.SellType == "" {
		t.SellType = "EXCHANGE FOK"
	}
	if t.BusyPolicy == "" {
		t.BusyPolicy = BusyAny
	}
	if t.BusyPolicy != BusyAny && t.BusyPolicy != BusyBoth {
		return fmt.Errorf("trading.busy_policy 只能是 any 或 both，当前 %s", t.BusyPolicy)
	}
	return nil
}
