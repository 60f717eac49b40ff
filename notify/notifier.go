package notify

import (
	"sync"

	"spottrader/config"
	"spottrader/event"
	"spottrader/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
type NotificationService struct {
	notifiers []Notifier
	mu        sync.RWMutex
	cfg       *config.Config
	wg        sync.WaitGroup
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{
		cfg: cfg,
	}

	if !cfg.Notifications.Enabled {
		return ns
	}

	if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
		telegramNotifier, err := NewTelegramNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, telegramNotifier)
			logger.Info("✅ Telegram 通知已启用")
		}
	}

	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		webhookNotifier, err := NewWebhookNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, webhookNotifier)
			logger.Info("✅ Webhook 通知已启用")
		}
	}

	return ns
}

// AddNotifier 追加通知渠道
func (ns *NotificationService) AddNotifier(n Notifier) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifiers = append(ns.notifiers, n)
}

// SetConfig 热更新通知规则（渠道本身不重建）
func (ns *NotificationService) SetConfig(cfg *config.Config) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.cfg = cfg
}

// shouldNotify 检查是否需要通知
func (ns *NotificationService) shouldNotify(eventType event.EventType) bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if !ns.cfg.Notifications.Enabled || len(ns.notifiers) == 0 {
		return false
	}

	rules := ns.cfg.Notifications.Rules
	switch eventType {
	case event.EventTypeOrderPlaced:
		return rules.OrderPlaced
	case event.EventTypeOrderFilled:
		return rules.OrderFilled
	case event.EventTypeStopLoss:
		return rules.StopLoss
	case event.EventTypeSubmitFailed:
		return rules.SubmitFailed
	case event.EventTypeLockForcedRelease:
		return rules.LockReleased
	case event.EventTypeSystemStart, event.EventTypeSystemStop:
		return rules.System
	case event.EventTypeBootFailed:
		return true // 启动失败始终通知
	default:
		// order_update 频率太高，不通知
		return false
	}
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil || !ns.shouldNotify(evt.Type) {
		return
	}

	ns.mu.RLock()
	notifiers := make([]Notifier, len(ns.notifiers))
	copy(notifiers, ns.notifiers)
	ns.mu.RUnlock()

	// 并发发送到所有启用的通知渠道
	for _, notifier := range notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(notifier)
	}
}

// Wait 等待已发出的通知完成（退出前调用）
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}
