package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *PrometheusMetrics

	// 订单指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_order_total",
			Help: "Total number of orders submitted",
		},
		[]string{"exchange", "symbol", "side", "kind"},
	)

	orderFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_order_failure_total",
			Help: "Total number of failed order submissions",
		},
		[]string{"exchange", "symbol", "side", "reason"},
	)

	orderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spottrader_order_duration_seconds",
			Help:    "Order submission duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"exchange", "symbol", "kind"},
	)

	orderUpdateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_order_update_total",
			Help: "Total number of order updates received",
		},
		[]string{"side", "status"},
	)

	sellTriggerTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_sell_trigger_total",
			Help: "Sell decisions by trigger",
		},
		[]string{"reason"},
	)

	// 下单锁指标
	lockSubmitting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spottrader_lock_submitting",
			Help: "In-flight order lock state (0=idle, 1=submitting)",
		},
	)

	lockForcedReleaseTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spottrader_lock_forced_release_total",
			Help: "Total number of in-flight locks released by the watchdog",
		},
	)

	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_distributed_lock_acquire_total",
			Help: "Total number of distributed order lock acquisitions",
		},
		[]string{"key", "status"}, // status: success, failed, skipped
	)

	// 行情与余额
	averagePrice = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spottrader_average_price",
			Help: "Current volume weighted average price",
		},
	)

	tickTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spottrader_tick_total",
			Help: "Total number of trade ticks processed",
		},
	)

	tickDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spottrader_tick_dropped_total",
			Help: "Ticks dropped because the engine inbox was full",
		},
	)

	balanceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spottrader_balance",
			Help: "Available exchange balance",
		},
		[]string{"asset"}, // base, quote
	)

	balanceRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_balance_refresh_total",
			Help: "Balance refresh attempts",
		},
		[]string{"result"}, // ok, error, coalesced
	)

	// 启动对账
	bootStepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_boot_step_total",
			Help: "Boot reconciliation step results",
		},
		[]string{"step", "result"},
	)

	// 交易所连接
	websocketReconnectCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spottrader_websocket_reconnect_count_total",
			Help: "Total number of WebSocket reconnections",
		},
		[]string{"exchange"},
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spottrader_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spottrader_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spottrader_process_cpu_percent",
			Help: "Process CPU usage percent",
		},
	)

	processRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spottrader_process_rss_bytes",
			Help: "Process resident set size in bytes",
		},
	)

	systemMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spottrader_system_memory_percent",
			Help: "Host memory usage percent",
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

// GetPrometheusMetrics 获取全局指标实例
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

// RecordOrder 记录一次下单/改单
func (pm *PrometheusMetrics) RecordOrder(exchange, symbol, side, kind string, duration time.Duration) {
	orderTotal.WithLabelValues(exchange, symbol, side, kind).Inc()
	orderDuration.WithLabelValues(exchange, symbol, kind).Observe(duration.Seconds())
}

// RecordOrderFailure 记录订单失败
func (pm *PrometheusMetrics) RecordOrderFailure(exchange, symbol, side, reason string) {
	orderFailureTotal.WithLabelValues(exchange, symbol, side, reason).Inc()
}

// RecordOrderUpdate 记录订单推送
func (pm *PrometheusMetrics) RecordOrderUpdate(side, status string) {
	orderUpdateTotal.WithLabelValues(side, status).Inc()
}

// RecordSellTrigger 记录卖出触发原因
func (pm *PrometheusMetrics) RecordSellTrigger(reason string) {
	sellTriggerTotal.WithLabelValues(reason).Inc()
}

// SetLockSubmitting 设置下单锁状态
func (pm *PrometheusMetrics) SetLockSubmitting(submitting bool) {
	if submitting {
		lockSubmitting.Set(1)
		return
	}
	lockSubmitting.Set(0)
}

// RecordLockForcedRelease 记录看门狗强制释放
func (pm *PrometheusMetrics) RecordLockForcedRelease() {
	lockForcedReleaseTotal.Inc()
}

// RecordLockAcquire 记录分布式锁获取结果
func (pm *PrometheusMetrics) RecordLockAcquire(key, status string) {
	lockAcquireTotal.WithLabelValues(key, status).Inc()
}

// SetAveragePrice 设置均价
func (pm *PrometheusMetrics) SetAveragePrice(price float64) {
	averagePrice.Set(price)
}

// RecordTick 记录处理的成交
func (pm *PrometheusMetrics) RecordTick() {
	tickTotal.Inc()
}

// RecordDroppedTick 记录丢弃的成交
func (pm *PrometheusMetrics) RecordDroppedTick() {
	tickDroppedTotal.Inc()
}

// SetBalances 设置余额
func (pm *PrometheusMetrics) SetBalances(base, quote float64) {
	balanceGauge.WithLabelValues("base").Set(base)
	balanceGauge.WithLabelValues("quote").Set(quote)
}

// RecordBalanceRefresh 记录余额刷新结果
func (pm *PrometheusMetrics) RecordBalanceRefresh(result string) {
	balanceRefreshTotal.WithLabelValues(result).Inc()
}

// RecordBootStep 记录启动对账步骤结果
func (pm *PrometheusMetrics) RecordBootStep(step string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	bootStepTotal.WithLabelValues(step, result).Inc()
}

// RecordWebSocketReconnect 记录 WebSocket 重连
func (pm *PrometheusMetrics) RecordWebSocketReconnect(exchange string) {
	websocketReconnectCount.WithLabelValues(exchange).Inc()
}

// SetGoroutineCount 设置 Goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置堆内存
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAllocBytes.Set(float64(bytes))
}

// SetProcessUsage 设置进程 CPU 和内存
func (pm *PrometheusMetrics) SetProcessUsage(cpuPercent float64, rssBytes uint64) {
	processCPUPercent.Set(cpuPercent)
	processRSSBytes.Set(float64(rssBytes))
}

// SetSystemMemoryPercent 设置主机内存使用率
func (pm *PrometheusMetrics) SetSystemMemoryPercent(percent float64) {
	systemMemoryPercent.Set(percent)
}
