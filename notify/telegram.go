package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"spottrader/config"
	"spottrader/event"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg *config.Config) (*TelegramNotifier, error) {
	if cfg.Notifications.Telegram.BotToken == "" || cfg.Notifications.Telegram.ChatID == "" {
		return nil, fmt.Errorf("Telegram BotToken 或 ChatID 未配置")
	}

	return &TelegramNotifier{
		botToken: cfg.Notifications.Telegram.BotToken,
		chatID:   cfg.Notifications.Telegram.ChatID,
		apiBase:  telegramAPI,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}, nil
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送通知
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiBase, tn.botToken)

	payload := map[string]interface{}{
		"chat_id":    tn.chatID,
		"text":       formatTelegramMessage(evt),
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API 返回错误: %d", resp.StatusCode)
	}
	return nil
}

// formatTelegramMessage 格式化 Telegram 消息，字段按键排序
func formatTelegramMessage(evt *event.Event) string {
	var emoji, title string

	switch evt.Type {
	case event.EventTypeOrderPlaced:
		emoji, title = "📝", "订单已提交"
	case event.EventTypeOrderFilled:
		emoji, title = "✅", "订单已成交"
	case event.EventTypeStopLoss:
		emoji, title = "🛑", "止损触发"
	case event.EventTypeSubmitFailed:
		emoji, title = "❌", "下单失败"
	case event.EventTypeLockForcedRelease:
		emoji, title = "🔓", "下单锁超时释放"
	case event.EventTypeBootFailed:
		emoji, title = "🚨", "启动对账失败"
	case event.EventTypeSystemStart:
		emoji, title = "🚀", "系统启动"
	case event.EventTypeSystemStop:
		emoji, title = "🛑", "系统停止"
	default:
		emoji, title = "ℹ️", "系统通知"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", emoji, title)
	fmt.Fprintf(&b, "时间: %s\n", evt.Timestamp.Format("2006-01-02 15:04:05"))

	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: `%v`\n", k, evt.Data[k])
	}
	return b.String()
}
