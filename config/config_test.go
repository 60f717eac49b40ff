package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createValidConfig() *Config {
	cfg := &Config{}
	cfg.App.CurrentExchange = "bitfinex"
	cfg.Exchanges = map[string]ExchangeConfig{
		"bitfinex": {APIKey: "test_key", SecretKey: "test_secret"},
	}
	cfg.Trading.Symbol = "tBTCUSD"
	cfg.Storage.Path = "./test_data/spottrader.db"
	cfg.Web.Port = 28888
	return cfg
}

func TestConfigValidate(t *testing.T) {
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("有效配置验证失败: %v", err)
	}

	// 默认值
	if cfg.App.Mode != ModeLive {
		t.Errorf("默认模式应为 live, 得到 %s", cfg.App.Mode)
	}
	if cfg.Trading.MinTradeBase != 0.01 || cfg.Trading.SignificantDigits != 5 || cfg.Trading.AmountDecimals != 8 {
		t.Errorf("量化默认值错误: %+v", cfg.Trading)
	}
	if cfg.Trading.SupportMargin != cfg.Trading.Risk {
		t.Errorf("support_margin 默认应等于 risk")
	}
	if cfg.Trading.SellType != "EXCHANGE FOK" || cfg.Trading.BuyType != "EXCHANGE LIMIT" {
		t.Errorf("订单类型默认值错误: %s / %s", cfg.Trading.BuyType, cfg.Trading.SellType)
	}
	if cfg.Trading.BusyPolicy != BusyAny {
		t.Errorf("默认占用判定应为 any, 得到 %s", cfg.Trading.BusyPolicy)
	}
	if cfg.Timing.SubmitTimeout != 15 || cfg.Timing.LockTimeout != 30 {
		t.Errorf("超时默认值错误: submit=%d lock=%d", cfg.Timing.SubmitTimeout, cfg.Timing.LockTimeout)
	}
	if cfg.Trading.MaxWait() != time.Hour || cfg.Trading.Resolution() != 5*time.Minute {
		t.Errorf("时间默认值错误: %v %v", cfg.Trading.MaxWait(), cfg.Trading.Resolution())
	}

	// 实盘缺少密钥
	missingKey := createValidConfig()
	missingKey.Exchanges["bitfinex"] = ExchangeConfig{APIKey: "only_key"}
	if err := missingKey.Validate(); err == nil {
		t.Error("缺少 secret 应该报错")
	}

	// 模拟盘不需要密钥
	paper := &Config{}
	paper.App.Mode = ModePaper
	if err := paper.Validate(); err != nil {
		t.Errorf("模拟盘无需交易所配置: %v", err)
	}
	if paper.Paper.StartQuote != 1000 {
		t.Errorf("模拟盘默认资金应为 1000, 得到 %v", paper.Paper.StartQuote)
	}

	badRisk := createValidConfig()
	badRisk.Trading.Risk = 1.5
	if err := badRisk.Validate(); err == nil {
		t.Error("risk >= 1 应该报错")
	}

	badPolicy := createValidConfig()
	badPolicy.Trading.BusyPolicy = "either"
	if err := badPolicy.Validate(); err == nil {
		t.Error("未知 busy_policy 应该报错")
	}

	badLock := createValidConfig()
	badLock.Timing.SubmitTimeout = 20
	badLock.Timing.LockTimeout = 10
	if err := badLock.Validate(); err == nil {
		t.Error("lock_timeout 小于 submit_timeout 应该报错")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BIT_REST_KEY":    "rest_key",
		"BIT_REST_SECRET": "rest_secret",
		"BIT_WS_KEY":      "ws_key",
		"RISK":            "0.05",
		"MAX_WAIT":        "60000",
		"MIN_TRADES":      "3",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &Config{}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("环境变量覆盖失败: %v", err)
	}
	ex := cfg.Exchanges["bitfinex"]
	if ex.APIKey != "rest_key" || ex.SecretKey != "rest_secret" || ex.WSAPIKey != "ws_key" {
		t.Errorf("密钥覆盖错误: %+v", ex)
	}
	if cfg.Trading.Risk != 0.05 || cfg.Trading.MaxWaitMs != 60000 || cfg.Trading.MinTrades != 3 {
		t.Errorf("策略参数覆盖错误: %+v", cfg.Trading)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("环境变量提供的密钥应通过验证: %v", err)
	}

	env["MIN_GAIN"] = "abc"
	if err := (&Config{}).ApplyEnv(lookup); err == nil {
		t.Error("非数字 MIN_GAIN 应该报错")
	}
}

func TestLoadConfigFromBytes(t *testing.T) {
	data := []byte(`
app:
  mode: paper
trading:
  symbol: tETHUSD
  risk: 0.03
  max_wait_ms: 120000
paper:
  start_quote: 500
`)
	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if cfg.Trading.Symbol != "tETHUSD" || cfg.Paper.StartQuote != 500 {
		t.Errorf("字段解析错误: %+v", cfg.Trading)
	}
	if _, err := LoadConfigFromBytes([]byte("app: [")); err == nil {
		t.Error("非法 YAML 应该报错")
	}
}

func TestConfigDiff(t *testing.T) {
	oldCfg := createValidConfig()
	newCfg := createValidConfig()

	diff := DiffConfig(oldCfg, newCfg)
	if len(diff.Changes) != 0 {
		t.Errorf("预期无变更，得到 %d 个", len(diff.Changes))
	}

	newCfg.Trading.Risk = 0.05
	diff = DiffConfig(oldCfg, newCfg)
	if len(diff.Changes) != 1 || diff.Changes[0].Path != "trading.risk" {
		t.Fatalf("预期 trading.risk 变更，得到 %+v", diff.Changes)
	}
	if diff.RequiresRestart {
		t.Error("修改 risk 不应需要重启")
	}

	newCfg.Trading.Symbol = "tETHUSD"
	newCfg.Exchanges["kraken"] = ExchangeConfig{APIKey: "k"}
	diff = DiffConfig(oldCfg, newCfg)
	if !diff.RequiresRestart {
		t.Error("修改交易对应该标记为需要重启")
	}
	if !diff.HasPrefix("exchanges") {
		t.Error("新增交易所应出现在差异中")
	}
}

func TestHotReloader(t *testing.T) {
	initialCfg := createValidConfig()
	reloader := NewHotReloader(initialCfg)

	var got []ConfigChange
	reloader.RegisterCallback(func(old, new *Config, changes []ConfigChange) error {
		got = changes
		return nil
	})

	newCfg := createValidConfig()
	newCfg.Trading.MinGain = 0.02
	newCfg.Web.Port = 9999

	diff, err := reloader.UpdateConfig(newCfg)
	if err != nil {
		t.Fatalf("更新配置失败: %v", err)
	}
	if !diff.RequiresRestart {
		t.Error("web.port 变更应提示重启")
	}
	if len(got) != 1 || got[0].Path != "trading.min_gain" {
		t.Errorf("回调只应收到可热更新的变更: %+v", got)
	}

	current := reloader.GetCurrentConfig()
	if current.Trading.MinGain != 0.02 {
		t.Errorf("min_gain 未更新: %v", current.Trading.MinGain)
	}
	if current.Web.Port != 28888 {
		t.Errorf("需要重启的 web.port 不应生效: %d", current.Web.Port)
	}
	if initialCfg.Trading.MinGain == 0.02 {
		t.Error("原始配置不应被修改")
	}
}

func TestConfigWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	base := "app:\n  mode: paper\ntrading:\n  risk: 0.02\n"
	if err := os.WriteFile(path, []byte(base), 0600); err != nil {
		t.Fatal(err)
	}
	initial, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	watcher, err := NewConfigWatcher(path, NewHotReloader(initial))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer watcher.Stop()

	// 保证修改时间前进
	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("app:\n  mode: paper\ntrading:\n  risk: 0.04\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_ = os.Chtimes(path, future, future)

	select {
	case diff := <-watcher.Diffs():
		if !diff.HasPrefix("trading.risk") {
			t.Errorf("应检测到 trading.risk 变更: %+v", diff.Changes)
		}
	case err := <-watcher.Errors():
		t.Fatalf("监控出错: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("等待配置重新加载超时")
	}
}
