package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"spottrader/config"
	"spottrader/logger"
	"spottrader/order"
	"spottrader/utils"
)

// Storage 存储接口
type Storage interface {
	SaveTraderState(state *TraderState) error
	GetLastTraderState(symbol string) (*TraderState, error)
	SaveOrderUpdate(record *OrderRecord) error
	QueryOrderUpdates(symbol string, limit int) ([]*OrderRecord, error)
	SaveEvent(eventType string, data map[string]interface{}) error
	SaveLog(record *LogRecord) error
	Close() error
}

const (
	kindTraderState = "trader_state"
	kindOrderUpdate = "order_update"
	kindLog         = "log"
)

// storageEvent 存储事件
type storageEvent struct {
	EventType string      `json:"event_type"`
	Data      interface{} `json:"data"`
}

// StorageService 存储服务：异步队列 + 批量写入，写库失败时落盘到备用文件
type StorageService struct {
	storage      Storage
	cfg          *config.Config
	eventCh      chan *storageEvent
	buffer       []*storageEvent
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	fallbackPath string
	started      bool
	stopped      bool
	stopMu       sync.Mutex
}

// Open 按配置打开内置的 SQLite 存储
func Open(cfg *config.Config) (Storage, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	st, err := NewSQLiteStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化 SQLite 存储失败: %w", err)
	}
	return st, nil
}

// NewStorageService 创建存储服务。st 为 nil 或未启用存储时所有写入都是空操作
func NewStorageService(cfg *config.Config, ctx context.Context, st Storage) *StorageService {
	if !cfg.Storage.Enabled || st == nil {
		return &StorageService{cfg: cfg}
	}

	ctx, cancel := context.WithCancel(ctx)
	return &StorageService{
		storage:      st,
		cfg:          cfg,
		eventCh:      make(chan *storageEvent, cfg.Storage.BufferSize),
		buffer:       make([]*storageEvent, 0, cfg.Storage.BatchSize),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		fallbackPath: filepath.Join(filepath.Dir(cfg.Storage.Path), "storage_fallback.log"),
	}
}

// GetStorage 获取底层存储接口
func (ss *StorageService) GetStorage() Storage {
	return ss.storage
}

// Start 启动存储服务
func (ss *StorageService) Start() {
	if ss.storage == nil {
		return
	}
	ss.stopMu.Lock()
	if ss.started {
		ss.stopMu.Unlock()
		return
	}
	ss.started = true
	ss.stopMu.Unlock()

	go ss.processEvents()
	logger.Info("✅ 存储服务已启动 (类型: %s, 路径: %s)", ss.cfg.Storage.Type, ss.cfg.Storage.Path)
}

// Stop 停止存储服务，写完队列中剩余的数据后关闭底层存储
func (ss *StorageService) Stop() {
	if ss.storage == nil {
		return
	}
	ss.stopMu.Lock()
	if ss.stopped {
		ss.stopMu.Unlock()
		return
	}
	ss.stopped = true
	started := ss.started
	ss.stopMu.Unlock()

	ss.cancel()
	if started {
		<-ss.done
	} else {
		ss.drain()
		ss.flush()
	}

	if err := ss.storage.Close(); err != nil {
		logger.Warn("⚠️ 关闭存储失败: %v", err)
	}
}

// Save 保存数据（完全异步，不阻塞）
func (ss *StorageService) Save(eventType string, data interface{}) {
	if !ss.enqueue(eventType, data) && ss.accepting() {
		logger.Warn("⚠️ 存储队列已满，丢弃事件: %s", eventType)
	}
}

// enqueue 入队，队列已满或服务已停止时返回 false
func (ss *StorageService) enqueue(eventType string, data interface{}) bool {
	if !ss.accepting() {
		return false
	}
	select {
	case ss.eventCh <- &storageEvent{EventType: eventType, Data: data}:
		return true
	default:
		return false
	}
}

func (ss *StorageService) accepting() bool {
	if ss.storage == nil {
		return false
	}
	ss.stopMu.Lock()
	defer ss.stopMu.Unlock()
	return !ss.stopped
}

// RecordOrderUpdate 记录订单更新（审计，不阻塞）
func (ss *StorageService) RecordOrderUpdate(o order.Order) {
	ss.Save(kindOrderUpdate, NewOrderRecord(o))
}

// SaveTraderState 异步保存交易状态快照
func (ss *StorageService) SaveTraderState(state *TraderState) {
	if state == nil {
		return
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = utils.NowUTC()
	}
	ss.Save(kindTraderState, state)
}

// GetLastTraderState 读取最新的交易状态快照，未启用存储时返回 nil, nil
func (ss *StorageService) GetLastTraderState(symbol string) (*TraderState, error) {
	if ss.storage == nil {
		return nil, nil
	}
	return ss.storage.GetLastTraderState(symbol)
}

// QueryOrderUpdates 查询最近的订单更新
func (ss *StorageService) QueryOrderUpdates(symbol string, limit int) ([]*OrderRecord, error) {
	if ss.storage == nil {
		return nil, nil
	}
	return ss.storage.QueryOrderUpdates(symbol, limit)
}

// WriteLog 日志持久化入口（供 logger.InitLogStorage 使用）。队列满时静默丢弃，避免日志递归
func (ss *StorageService) WriteLog(level, message string) {
	ss.enqueue(kindLog, &LogRecord{Timestamp: utils.NowUTC(), Level: level, Message: message})
}

// StartSnapshots 按固定间隔保存 provider 返回的交易状态
func (ss *StorageService) StartSnapshots(interval time.Duration, provider func() *TraderState) {
	if ss.storage == nil || interval <= 0 || provider == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ss.ctx.Done():
				return
			case <-ticker.C:
				ss.SaveTraderState(provider())
			}
		}
	}()
}

// processEvents 处理事件（在独立 goroutine 中运行）
func (ss *StorageService) processEvents() {
	defer close(ss.done)

	flushInterval := time.Duration(ss.cfg.Storage.FlushInterval) * time.Second
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ss.ctx.Done():
			// 退出前写完队列
			ss.drain()
			ss.flush()
			return

		case evt := <-ss.eventCh:
			ss.mu.Lock()
			ss.buffer = append(ss.buffer, evt)
			bufferSize := len(ss.buffer)
			ss.mu.Unlock()

			if bufferSize >= ss.cfg.Storage.BatchSize {
				ss.flush()
			}

		case <-ticker.C:
			ss.flush()
		}
	}
}

// drain 把队列中剩余的事件移入缓冲区
func (ss *StorageService) drain() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for {
		select {
		case evt := <-ss.eventCh:
			ss.buffer = append(ss.buffer, evt)
		default:
			return
		}
	}
}

// flush 刷新缓冲区到数据库
func (ss *StorageService) flush() {
	ss.mu.Lock()
	if len(ss.buffer) == 0 {
		ss.mu.Unlock()
		return
	}

	events := make([]*storageEvent, len(ss.buffer))
	copy(events, ss.buffer)
	ss.buffer = ss.buffer[:0]
	ss.mu.Unlock()

	if failed, err := ss.batchSave(events); err != nil {
		logger.Error("❌ 数据库写入失败: %v", err)
		// 保底方案：写入备用文件
		ss.fallbackToLog(failed)
	}
}

// batchSave 批量保存，返回未写入的事件
func (ss *StorageService) batchSave(events []*storageEvent) ([]*storageEvent, error) {
	for i, evt := range events {
		var err error
		switch data := evt.Data.(type) {
		case *TraderState:
			err = ss.storage.SaveTraderState(data)
		case *OrderRecord:
			err = ss.storage.SaveOrderUpdate(data)
		case *LogRecord:
			err = ss.storage.SaveLog(data)
		case map[string]interface{}:
			err = ss.storage.SaveEvent(evt.EventType, data)
		default:
			logger.Warn("⚠️ 未知的存储数据类型: %s (%T)", evt.EventType, evt.Data)
		}

		if err != nil {
			return events[i:], fmt.Errorf("保存 %s 失败: %w", evt.EventType, err)
		}
	}
	return nil, nil
}

// fallbackToLog 保底方案：写入备用文件
func (ss *StorageService) fallbackToLog(events []*storageEvent) {
	if err := os.MkdirAll(filepath.Dir(ss.fallbackPath), 0755); err != nil {
		logger.Error("❌ 创建备用目录失败: %v", err)
		return
	}

	file, err := os.OpenFile(ss.fallbackPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Error("❌ 打开备用文件失败: %v", err)
		return
	}
	defer file.Close()

	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(file, "%s %s\n", time.Now().Format(time.RFC3339), string(data))
	}
}
