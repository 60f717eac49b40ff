package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher 配置文件监控器
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	hotReloader *HotReloader
	debounce    time.Duration

	mu          sync.Mutex
	isWatching  bool
	lastModTime time.Time

	diffChan  chan *ConfigDiff
	errorChan chan error
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, hotReloader *HotReloader) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %v", err)
	}

	var lastModTime time.Time
	if info, err := os.Stat(absPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  absPath,
		watcher:     watcher,
		hotReloader: hotReloader,
		debounce:    200 * time.Millisecond,
		lastModTime: lastModTime,
		diffChan:    make(chan *ConfigDiff, 1),
		errorChan:   make(chan error, 10),
	}, nil
}

// Start 开始监控配置文件所在目录（编辑器保存时常常是先删后建）
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %v", err)
	}
	cw.isWatching = true

	go cw.watchLoop(ctx)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}
	cw.isWatching = false
	return cw.watcher.Close()
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// 合并连续写入
				pending = time.After(cw.debounce)
			}

		case <-pending:
			pending = nil
			cw.handleConfigChange()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.reportError(err)
		}
	}
}

func (cw *ConfigWatcher) handleConfigChange() {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("获取文件信息失败: %v", err))
		return
	}

	cw.mu.Lock()
	if !info.ModTime().After(cw.lastModTime) {
		cw.mu.Unlock()
		return
	}
	cw.lastModTime = info.ModTime()
	cw.mu.Unlock()

	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("重新加载配置失败: %v", err))
		return
	}

	diff, err := cw.hotReloader.UpdateConfig(newConfig)
	if err != nil {
		cw.reportError(fmt.Errorf("配置热更新失败: %v", err))
		return
	}

	if len(diff.Changes) > 0 {
		select {
		case cw.diffChan <- diff:
		default:
		}
	}
}

func (cw *ConfigWatcher) reportError(err error) {
	select {
	case cw.errorChan <- err:
	default:
	}
}

// Diffs 每次重新加载得到的差异
func (cw *ConfigWatcher) Diffs() <-chan *ConfigDiff {
	return cw.diffChan
}

// Errors 监控错误
func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errorChan
}
