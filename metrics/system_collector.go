package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"spottrader/logger"
)

// SystemMetricsCollector 定时采集进程和主机资源占用
type SystemMetricsCollector struct {
	interval time.Duration
	proc     *process.Process

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSystemMetricsCollector 创建采集器，interval<=0 时用 15s
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	c := &SystemMetricsCollector{interval: interval, stop: make(chan struct{})}
	if p, err := process.NewProcess(int32(os.Getpid())); err != nil {
		logger.Warn("⚠️ 获取进程信息失败，仅采集 Go 运行时指标: %v", err)
	} else {
		c.proc = p
	}
	return c
}

// Start 立即采一次，之后按间隔采集
func (c *SystemMetricsCollector) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			c.Collect()
			select {
			case <-c.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop 可重复调用
func (c *SystemMetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Collect 采集一次
func (c *SystemMetricsCollector) Collect() {
	pm := GetPrometheusMetrics()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	pm.SetGoroutineCount(runtime.NumGoroutine())
	pm.SetMemoryAlloc(ms.Alloc)

	if c.proc != nil {
		cpu, cpuErr := c.proc.CPUPercent()
		rss, rssErr := c.proc.MemoryInfo()
		switch {
		case cpuErr != nil:
			logger.Debug("采集进程 CPU 失败: %v", cpuErr)
		case rssErr != nil || rss == nil:
			logger.Debug("采集进程内存失败: %v", rssErr)
		default:
			pm.SetProcessUsage(cpu, rss.RSS)
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		pm.SetSystemMemoryPercent(vm.UsedPercent)
	}
}
