package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"spottrader/config"
	"spottrader/event"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []event.EventType
	err    error
}

func (c *captureNotifier) Send(evt *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt.Type)
	return c.err
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) got() []event.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.EventType(nil), c.events...)
}

func rulesConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Notifications.Enabled = true
	cfg.Notifications.Rules.StopLoss = true
	cfg.Notifications.Rules.OrderFilled = true
	return cfg
}

func TestNotificationRules(t *testing.T) {
	ns := NewNotificationService(rulesConfig())
	c := &captureNotifier{}
	ns.AddNotifier(c)

	for _, typ := range []event.EventType{
		event.EventTypeStopLoss,
		event.EventTypeOrderPlaced, // 规则关闭
		event.EventTypeOrderUpdate, // 从不通知
		event.EventTypeBootFailed,  // 始终通知
	} {
		ns.Send(event.New(typ, nil))
	}
	ns.Wait()

	got := c.got()
	if len(got) != 2 {
		t.Fatalf("期望 2 条通知, 得到 %v", got)
	}
	seen := map[event.EventType]bool{}
	for _, typ := range got {
		seen[typ] = true
	}
	if !seen[event.EventTypeStopLoss] || !seen[event.EventTypeBootFailed] {
		t.Errorf("通知内容不正确: %v", got)
	}
}

func TestNotificationHotRules(t *testing.T) {
	ns := NewNotificationService(rulesConfig())
	c := &captureNotifier{err: errors.New("boom")}
	ns.AddNotifier(c)

	updated := rulesConfig()
	updated.Notifications.Rules.StopLoss = false
	ns.SetConfig(updated)

	ns.Send(event.New(event.EventTypeStopLoss, nil))
	ns.Send(nil)
	ns.Wait()
	if len(c.got()) != 0 {
		t.Errorf("规则关闭后不应通知: %v", c.got())
	}
}

func TestNotificationDisabled(t *testing.T) {
	cfg := rulesConfig()
	cfg.Notifications.Enabled = false
	ns := NewNotificationService(cfg)
	c := &captureNotifier{}
	ns.AddNotifier(c)

	ns.Send(event.New(event.EventTypeBootFailed, nil))
	ns.Wait()
	if len(c.got()) != 0 {
		t.Error("未启用通知时不应发送")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var (
		mu      sync.Mutex
		payload map[string]interface{}
		header  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Get("X-Spottrader-Event")
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := rulesConfig()
	cfg.Notifications.Webhook.URL = srv.URL
	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatalf("创建 Webhook 通知器失败: %v", err)
	}

	evt := event.New(event.EventTypeStopLoss, map[string]interface{}{"price": "97"})
	if err := wn.Send(evt); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if header != "stop_loss" || payload["type"] != "stop_loss" || payload["severity"] != "warning" {
		t.Errorf("请求内容不正确: %s %v", header, payload)
	}
	data, _ := payload["data"].(map[string]interface{})
	if data["price"] != "97" {
		t.Errorf("事件数据不正确: %v", payload["data"])
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := rulesConfig()
	cfg.Notifications.Webhook.URL = srv.URL
	cfg.Notifications.Webhook.Timeout = 1
	wn, _ := NewWebhookNotifier(cfg)
	if err := wn.Send(event.New(event.EventTypeSystemStart, nil)); err == nil {
		t.Error("非 2xx 状态码应返回错误")
	}

	cfg.Notifications.Webhook.URL = ""
	if _, err := NewWebhookNotifier(cfg); err == nil {
		t.Error("未配置 URL 应返回错误")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	cfg := rulesConfig()
	cfg.Notifications.Telegram.BotToken = "token"
	cfg.Notifications.Telegram.ChatID = "42"
	tn, err := NewTelegramNotifier(cfg)
	if err != nil {
		t.Fatalf("创建 Telegram 通知器失败: %v", err)
	}
	tn.apiBase = srv.URL

	evt := &event.Event{
		Type:      event.EventTypeOrderFilled,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:      map[string]interface{}{"side": "buy", "id": "1001"},
	}
	if err := tn.Send(evt); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/bottoken/sendMessage" {
		t.Errorf("请求路径不正确: %s", path)
	}
	text, _ := body["text"].(string)
	if !strings.HasPrefix(text, "✅ *订单已成交*") {
		t.Errorf("消息标题不正确: %q", text)
	}
	if strings.Index(text, "id:") > strings.Index(text, "side:") {
		t.Errorf("字段应按键排序: %q", text)
	}
	if body["chat_id"] != "42" {
		t.Errorf("chat_id 不正确: %v", body["chat_id"])
	}
}
