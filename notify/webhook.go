package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"spottrader/config"
	"spottrader/event"
)

// webhookPayload POST 到 webhook 的消息体
type webhookPayload struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// severity 接收方据此分级告警
func severity(t event.EventType) string {
	switch t {
	case event.EventTypeBootFailed, event.EventTypeLockForcedRelease:
		return "critical"
	case event.EventTypeStopLoss, event.EventTypeSubmitFailed:
		return "warning"
	default:
		return "info"
	}
}

// WebhookNotifier 把事件以 JSON POST 到指定地址
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.Config) (*WebhookNotifier, error) {
	wh := cfg.Notifications.Webhook
	if wh.URL == "" {
		return nil, fmt.Errorf("Webhook URL 未配置")
	}
	timeout := time.Duration(wh.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &WebhookNotifier{url: wh.URL, client: &http.Client{Timeout: timeout}}, nil
}

func (wn *WebhookNotifier) Name() string { return "Webhook" }

func (wn *WebhookNotifier) Send(evt *event.Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:      string(evt.Type),
		Severity:  severity(evt.Type),
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      evt.Data,
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Spottrader-Event", string(evt.Type))

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("Webhook 返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
