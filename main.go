package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/boot"
	"spottrader/config"
	"spottrader/database"
	"spottrader/engine"
	"spottrader/errs"
	"spottrader/event"
	"spottrader/exchange"
	"spottrader/exchange/bitfinex"
	"spottrader/lock"
	"spottrader/logger"
	"spottrader/metrics"
	"spottrader/notify"
	"spottrader/quant"
	"spottrader/storage"
	"spottrader/trader"
	"spottrader/utils"
	"spottrader/web"
)

// Version 版本号
var Version = "1.0.0"

func main() {
	startedAt := time.Now()
	logger.Info("🚀 SpotTrader 现货交易引擎启动...")
	logger.Info("📦 版本号: %s", Version)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("❌ 加载配置失败: %v", err)
	}

	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v，将使用 UTC", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.Location())
	logger.SetLogDir(cfg.System.LogDir)
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	defer logger.Close()

	symbol := bitfinex.ConvertToBitfinexSymbol(cfg.Trading.Symbol)
	logger.Info("✅ 配置加载成功: 模式=%s, 交易所=%s, 交易对=%s", cfg.App.Mode, cfg.App.CurrentExchange, symbol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 事件总线 & 通知
	eventBus := event.NewEventBus(1000)
	notifier := notify.NewNotificationService(cfg)

	// 存储
	st, err := openStorage(cfg)
	if err != nil {
		logger.Warn("⚠️ 初始化存储失败: %v (将继续运行，但不保存数据)", err)
	}
	// 存储服务只由 Stop 结束，保证退出时最后的事件能落库
	storageService := storage.NewStorageService(cfg, context.Background(), st)
	storageService.Start()
	logger.InitLogStorage(storageService.WriteLog)

	// 事件分发：落库 + 通知
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatch := func(evt *event.Event) {
			if evt == nil {
				return
			}
			storageService.Save(string(evt.Type), evt.Data)
			notifier.Send(evt)
		}
		for {
			select {
			case <-ctx.Done():
				// 退出前把队列里剩下的事件处理完
				for {
					select {
					case evt := <-eventBus.Subscribe():
						dispatch(evt)
					default:
						return
					}
				}
			case evt := <-eventBus.Subscribe():
				dispatch(evt)
			}
		}
	}()

	// 系统指标
	var collector *metrics.SystemMetricsCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewSystemMetricsCollector(time.Duration(cfg.Metrics.CollectInterval) * time.Second)
		collector.Start()
		logger.Info("✅ Prometheus 系统指标采集器已启动")
	}

	// 分布式锁（防止多个实例同时交易同一交易对）
	distributedLock, err := lock.NewDistributedLock(&lock.Config{
		Enabled:    cfg.DistributedLock.Enabled,
		Type:       cfg.DistributedLock.Type,
		Prefix:     cfg.DistributedLock.Prefix,
		DefaultTTL: time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second,
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		logger.Fatalf("❌ 初始化分布式锁失败: %v", err)
	}
	defer distributedLock.Close()
	if cfg.DistributedLock.Enabled {
		logger.Info("✅ 分布式锁已启用 (类型: %s)", cfg.DistributedLock.Type)
	} else {
		logger.Info("ℹ️ 分布式锁未启用（单机模式）")
	}

	// 交易所
	ex, err := exchange.NewExchange(cfg)
	if err != nil {
		logger.Fatalf("❌ 初始化交易所失败: %v", err)
	}
	defer ex.Close()
	logger.Info("✅ 交易所已初始化: %s", ex.GetName())

	// 交易核心
	q := quant.New(cfg.Trading.SignificantDigits, decimal.NewFromFloat(cfg.Trading.TickSize), cfg.Trading.AmountDecimals)
	avg := average.New(cfg.Trading.Resolution(), cfg.Trading.MinTrades, q)
	defaultFees := trader.Fees{Maker: decimal.NewFromFloat(cfg.Fees.Maker), Taker: decimal.NewFromFloat(cfg.Fees.Taker)}
	tr := trader.New(traderParams(cfg, symbol), defaultFees, q, avg)

	submitTimeout := time.Duration(cfg.Timing.SubmitTimeout) * time.Second
	executor := engine.NewExecutor(ex, ex.GetName(), symbol, distributedLock, time.Duration(cfg.DistributedLock.DefaultTTL)*time.Second)
	eng := engine.New(engine.Config{
		MinTradeBase:   decimal.NewFromFloat(cfg.Trading.MinTradeBase),
		BusyPolicy:     engine.BusyPolicy(cfg.Trading.BusyPolicy),
		SubmitTimeout:  submitTimeout,
		LockTimeout:    time.Duration(cfg.Timing.LockTimeout) * time.Second,
		BalanceTimeout: time.Duration(cfg.Timing.BalanceTimeout) * time.Second,
	}, tr, executor, storageService, eventBus)

	// 启动对账，任一步骤失败则不进入交易
	reconciler := boot.New(ex, storageService, boot.Config{
		Symbol:      symbol,
		DefaultFees: defaultFees,
		Timeout:     time.Duration(cfg.Timing.BootTimeout) * time.Second,
	})
	result, err := reconciler.Run(ctx)
	if err != nil {
		data := map[string]interface{}{"error": err.Error()}
		var rf *errs.ReconciliationFailure
		if errors.As(err, &rf) {
			data["steps"] = failedSteps(rf)
		}
		eventBus.Publish(event.New(event.EventTypeBootFailed, data))
		cancel()
		<-dispatchDone
		notifier.Wait()
		storageService.Stop()
		logger.Fatalf("❌ %v", err)
	}

	tr.SetFees(result.Fees)
	tr.RestoreThresholds(result.Thresholds)
	eng.Restore(result.State)

	// 行情与订单推送
	ex.SetHandlers(eng.OnTick, eng.OnOrderUpdate)
	if err := ex.Authenticate(ctx); err != nil {
		logger.Fatalf("❌ 认证失败: %v", err)
	}
	if err := ex.Subscribe(ctx, symbol); err != nil {
		logger.Fatalf("❌ 订阅行情失败: %v", err)
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	storageService.StartSnapshots(time.Duration(cfg.Storage.SnapshotInterval)*time.Second, func() *storage.TraderState {
		return traderState(symbol, eng.Snapshot())
	})

	// 配置热更新
	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(func(oldCfg, newCfg *config.Config, changes []config.ConfigChange) error {
		eng.UpdateParams(traderParams(newCfg, symbol), decimal.NewFromFloat(newCfg.Trading.MinTradeBase))
		for _, change := range changes {
			switch {
			case strings.HasPrefix(change.Path, "fees."):
				// 交易所返回的实际费率优先，配置只是默认值
				if result.FeesFromExchange {
					logger.Warn("⚠️ 忽略配置变更 %s: 当前手续费来自交易所 maker=%s taker=%s",
						change.Path, result.Fees.Maker, result.Fees.Taker)
					continue
				}
				tr.SetFees(trader.Fees{Maker: decimal.NewFromFloat(newCfg.Fees.Maker), Taker: decimal.NewFromFloat(newCfg.Fees.Taker)})
			case change.Path == "system.log_level":
				logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
			}
		}
		notifier.SetConfig(newCfg)
		return nil
	})
	watcher, err := config.NewConfigWatcher(configPath, hotReloader)
	if err != nil {
		logger.Warn("⚠️ 创建配置监控失败: %v (配置热更新不可用)", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控失败: %v", err)
	} else {
		defer watcher.Stop()
		go watchConfig(ctx, watcher)
	}

	// Web 状态接口
	webServer := web.NewWebServer(cfg, web.Deps{
		Status:   eng,
		Orders:   storageService,
		Symbol:   symbol,
		Exchange: ex.GetName(),
		Mode:     cfg.App.Mode,
		Started:  startedAt,
	})
	webServer.Start(ctx)

	eventBus.Publish(event.New(event.EventTypeSystemStart, map[string]interface{}{
		"exchange": ex.GetName(),
		"symbol":   symbol,
		"mode":     cfg.App.Mode,
	}))
	logger.Info("✅ 系统初始化完成，程序正在运行中...")
	logger.Info("💡 按 Ctrl+C 退出程序")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("🛑 收到退出信号，开始优雅关闭...")
	case err := <-engineDone:
		logger.Error("❌ 交易引擎意外退出: %v", err)
	}

	eventBus.Publish(event.New(event.EventTypeSystemStop, map[string]interface{}{"reason": "shutdown"}))

	// 退出前保存最后一次状态快照
	storageService.SaveTraderState(traderState(symbol, eng.Snapshot()))

	// 停止所有协程（取消 context）
	cancel()
	select {
	case <-engineDone:
	case <-time.After(5 * time.Second):
		logger.Warn("⚠️ 等待交易引擎退出超时")
	}
	<-dispatchDone
	if collector != nil {
		collector.Stop()
	}
	notifier.Wait()

	logger.Info("⏹️ 正在停止存储服务...")
	storageService.Stop()
	logger.Info("✅ 程序已安全退出")
}

// openStorage 按配置打开存储，未启用时返回 nil
func openStorage(cfg *config.Config) (storage.Storage, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	if cfg.Storage.Type == "gorm" {
		store, err := database.NewStore(database.ConfigFrom(cfg))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return storage.Open(cfg)
}

// failedSteps 失败步骤名（已排序）
func failedSteps(rf *errs.ReconciliationFailure) []string {
	steps := make([]string, 0, len(rf.Steps))
	for name := range rf.Steps {
		steps = append(steps, name)
	}
	sort.Strings(steps)
	return steps
}

// traderParams 配置转换为交易参数
func traderParams(cfg *config.Config, symbol string) trader.Params {
	t := cfg.Trading
	return trader.Params{
		Symbol:          symbol,
		Exchange:        cfg.App.CurrentExchange,
		Risk:            decimal.NewFromFloat(t.Risk),
		MaxLoss:         decimal.NewFromFloat(t.MaxLoss),
		MinGain:         decimal.NewFromFloat(t.MinGain),
		SellOffset:      decimal.NewFromFloat(t.SellOffset),
		SupportMargin:   decimal.NewFromFloat(t.SupportMargin),
		MaxDropFallback: decimal.NewFromFloat(t.MaxDropFallback),
		MaxWait:         t.MaxWait(),
		SellType:        t.SellType,
		BuyType:         t.BuyType,
	}
}

// traderState 由引擎快照生成持久化记录
func traderState(symbol string, snap engine.Snapshot) *storage.TraderState {
	return &storage.TraderState{
		Symbol:         symbol,
		BalanceQuote:   snap.State.BalanceQuote,
		BalanceBase:    snap.State.BalanceBase,
		ResistanceZone: snap.Trader.Thresholds.ResistanceZone,
		SupportZone:    snap.Trader.Thresholds.HighestSupportZone,
	}
}

// watchConfig 记录热更新结果，需要重启的变更给出提示
func watchConfig(ctx context.Context, watcher *config.ConfigWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors():
			logger.Warn("⚠️ %v", err)
		case diff := <-watcher.Diffs():
			for _, change := range diff.Changes {
				if change.RequiresRestart {
					logger.Warn("⚠️ 配置 %s 变更需要重启才能生效", change.Path)
				} else {
					logger.Info("🔄 配置 %s 已更新: %v -> %v", change.Path, change.OldValue, change.NewValue)
				}
			}
		}
	}
}
