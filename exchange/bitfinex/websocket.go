package bitfinex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"spottrader/average"
	"spottrader/logger"
	"spottrader/order"
)

const (
	BitfinexWSURL = "wss://api.bitfinex.com/ws/2"

	authChannelID = 0
)

// WebSocketManager Bitfinex WebSocket v2 管理器：公共成交频道 + 账户频道
type WebSocketManager struct {
	url       string
	apiKey    string
	secretKey string

	mu            sync.RWMutex
	conn          *websocket.Conn
	writeMu       sync.Mutex
	tradeChannels map[int64]string
	pairs         []string
	authenticated bool
	wantAuth      bool
	onTick        func(average.Tick)
	onOrder       func(order.Order)
	onReconnect   func()

	running  bool
	stopChan chan struct{}
	backoff  *backoff.Backoff
}

// NewWebSocketManager 创建 WebSocket 管理器
func NewWebSocketManager(url, apiKey, secretKey string, reconnectDelay time.Duration) *WebSocketManager {
	if url == "" {
		url = BitfinexWSURL
	}
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &WebSocketManager{
		url:           url,
		apiKey:        apiKey,
		secretKey:     secretKey,
		tradeChannels: make(map[int64]string),
		stopChan:      make(chan struct{}),
		backoff: &backoff.Backoff{
			Min:    reconnectDelay,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		},
	}
}

// SetHandlers 注册成交和订单回调
func (w *WebSocketManager) SetHandlers(onTick func(average.Tick), onOrder func(order.Order)) {
	w.mu.Lock()
	w.onTick = onTick
	w.onOrder = onOrder
	w.mu.Unlock()
}

// SetReconnectHook 每次重连成功后回调（用于统计）
func (w *WebSocketManager) SetReconnectHook(fn func()) {
	w.mu.Lock()
	w.onReconnect = fn
	w.mu.Unlock()
}

// ensureConnected 第一次调用时建立连接并启动读循环
func (w *WebSocketManager) ensureConnected(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.dialLocked(ctx); err != nil {
		return err
	}
	w.running = true
	go w.handleMessages(ctx)
	go w.ping(ctx)
	return nil
}

func (w *WebSocketManager) dialLocked(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial websocket error: %w", err)
	}
	w.conn = conn
	w.tradeChannels = make(map[int64]string)
	w.authenticated = false
	logger.Info("Bitfinex WebSocket connected: %s", w.url)
	return nil
}

func (w *WebSocketManager) writeJSON(v interface{}) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Subscribe 订阅交易对的公共成交
func (w *WebSocketManager) Subscribe(ctx context.Context, pair string) error {
	if err := w.ensureConnected(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	found := false
	for _, p := range w.pairs {
		if p == pair {
			found = true
		}
	}
	if !found {
		w.pairs = append(w.pairs, pair)
	}
	w.mu.Unlock()
	return w.sendSubscribe(pair)
}

func (w *WebSocketManager) sendSubscribe(pair string) error {
	msg := map[string]interface{}{
		"event":   "subscribe",
		"channel": "trades",
		"symbol":  pair,
	}
	if err := w.writeJSON(msg); err != nil {
		return fmt.Errorf("subscribe trades error: %w", err)
	}
	logger.Info("Bitfinex subscribing to trades: %s", pair)
	return nil
}

// Authenticate 登录账户频道以接收订单推送
func (w *WebSocketManager) Authenticate(ctx context.Context) error {
	if w.apiKey == "" || w.secretKey == "" {
		return fmt.Errorf("websocket api key and secret are required for authentication")
	}
	if err := w.ensureConnected(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.wantAuth = true
	w.mu.Unlock()
	return w.sendAuth()
}

func (w *WebSocketManager) sendAuth() error {
	nonce := strconv.FormatInt(time.Now().UnixMilli()*1000, 10)
	payload := "AUTH" + nonce
	msg := map[string]interface{}{
		"event":       "auth",
		"apiKey":      w.apiKey,
		"authSig":     sign(w.secretKey, payload),
		"authPayload": payload,
		"authNonce":   nonce,
	}
	if err := w.writeJSON(msg); err != nil {
		return fmt.Errorf("send auth error: %w", err)
	}
	return nil
}

// handleMessages 读循环，断线后按退避重连并恢复订阅
func (w *WebSocketManager) handleMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-w.stopChan:
				return
			default:
			}
			logger.Error("Bitfinex WebSocket read error: %v", err)
			if !w.reconnect(ctx) {
				return
			}
			continue
		}

		w.safeProcess(message)
	}
}

// safeProcess 单条消息的处理 panic 只丢弃这条消息，读循环继续
func (w *WebSocketManager) safeProcess(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Bitfinex WebSocket message handler panic: %v, message: %s", r, string(message))
		}
	}()
	w.processMessage(message)
}

// processMessage 分发事件消息和频道数据
func (w *WebSocketManager) processMessage(message []byte) {
	if len(message) > 0 && message[0] == '{' {
		w.handleEvent(message)
		return
	}

	var frame []interface{}
	if err := decode(message, &frame); err != nil {
		logger.Error("Bitfinex unmarshal message error: %v, message: %s", err, string(message))
		return
	}
	if len(frame) < 2 {
		return
	}
	chanNum, ok := frame[0].(json.Number)
	if !ok {
		return
	}
	chanID, err := chanNum.Int64()
	if err != nil {
		return
	}

	if chanID == authChannelID {
		w.handleAccountMessage(frame[1:])
		return
	}

	w.mu.RLock()
	_, isTrades := w.tradeChannels[chanID]
	w.mu.RUnlock()
	if isTrades {
		w.handleTradeMessage(frame[1:])
	}
}

func (w *WebSocketManager) handleEvent(message []byte) {
	var evt struct {
		Event   string      `json:"event"`
		Channel string      `json:"channel"`
		ChanID  int64       `json:"chanId"`
		Symbol  string      `json:"symbol"`
		Status  string      `json:"status"`
		Msg     string      `json:"msg"`
		Code    json.Number `json:"code"`
	}
	if err := json.Unmarshal(message, &evt); err != nil {
		logger.Error("Bitfinex unmarshal event error: %v", err)
		return
	}

	switch evt.Event {
	case "info":
		logger.Info("Bitfinex WebSocket info message received")
	case "subscribed":
		if evt.Channel == "trades" {
			w.mu.Lock()
			w.tradeChannels[evt.ChanID] = evt.Symbol
			w.mu.Unlock()
		}
		logger.Info("Bitfinex WebSocket subscription confirmed: %s %s (chanId=%d)", evt.Channel, evt.Symbol, evt.ChanID)
	case "auth":
		if evt.Status == "OK" {
			w.mu.Lock()
			w.authenticated = true
			w.mu.Unlock()
			logger.Info("Bitfinex WebSocket authenticated")
		} else {
			logger.Error("Bitfinex WebSocket auth failed: %s (code %s)", evt.Msg, evt.Code.String())
		}
	case "error":
		logger.Error("Bitfinex WebSocket error: %s (code %s)", evt.Msg, evt.Code.String())
	case "pong":
	}
}

// handleTradeMessage 处理 te 推送；快照和 tu 重复消息忽略
func (w *WebSocketManager) handleTradeMessage(body []interface{}) {
	msgType, ok := body[0].(string)
	if !ok || msgType != "te" || len(body) < 2 {
		return
	}
	arr, ok := body[1].([]interface{})
	if !ok {
		return
	}
	tick, err := parsePublicTrade(arr)
	if err != nil {
		logger.Warn("Bitfinex dropping malformed trade: %v", err)
		return
	}

	w.mu.RLock()
	cb := w.onTick
	w.mu.RUnlock()
	if cb != nil {
		cb(tick)
	}
}

// handleAccountMessage 处理 os/on/ou/oc 订单推送
func (w *WebSocketManager) handleAccountMessage(body []interface{}) {
	msgType, ok := body[0].(string)
	if !ok || len(body) < 2 {
		return
	}

	w.mu.RLock()
	cb := w.onOrder
	w.mu.RUnlock()
	if cb == nil {
		return
	}

	switch msgType {
	case "os":
		rows, ok := body[1].([]interface{})
		if !ok {
			return
		}
		for _, row := range rows {
			arr, ok := row.([]interface{})
			if !ok {
				continue
			}
			w.emitOrder(arr, cb)
		}
	case "on", "ou", "oc":
		arr, ok := body[1].([]interface{})
		if !ok {
			return
		}
		w.emitOrder(arr, cb)
	}
}

func (w *WebSocketManager) emitOrder(arr []interface{}, cb func(order.Order)) {
	o, err := parseOrderArray(arr, order.SourceSocket)
	if err != nil {
		logger.Warn("Bitfinex dropping malformed order update: %v", err)
		return
	}
	logger.Info("Bitfinex order update: %s", o.String())
	cb(o)
}

// ping 发送心跳
func (w *WebSocketManager) ping(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if err := w.writeJSON(map[string]interface{}{"event": "ping"}); err != nil {
				logger.Warn("Bitfinex send ping error: %v", err)
			}
		}
	}
}

// reconnect 按退避间隔重连，恢复成交订阅和账户认证
func (w *WebSocketManager) reconnect(ctx context.Context) bool {
	for {
		delay := w.backoff.Duration()
		logger.Info("Bitfinex WebSocket reconnecting in %s...", delay)
		select {
		case <-ctx.Done():
			return false
		case <-w.stopChan:
			return false
		case <-time.After(delay):
		}

		w.mu.Lock()
		if w.conn != nil {
			w.conn.Close()
		}
		err := w.dialLocked(ctx)
		pairs := append([]string(nil), w.pairs...)
		wantAuth := w.wantAuth
		hook := w.onReconnect
		w.mu.Unlock()
		if err != nil {
			logger.Error("Bitfinex reconnect error: %v", err)
			continue
		}
		w.backoff.Reset()

		for _, pair := range pairs {
			if err := w.sendSubscribe(pair); err != nil {
				logger.Error("Bitfinex resubscribe %s error: %v", pair, err)
			}
		}
		if wantAuth {
			if err := w.sendAuth(); err != nil {
				logger.Error("Bitfinex re-auth error: %v", err)
			}
		}
		if hook != nil {
			hook()
		}
		return true
	}
}

// Stop 停止 WebSocket
func (w *WebSocketManager) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopChan:
		return
	default:
		close(w.stopChan)
	}
	if w.conn != nil {
		w.conn.Close()
	}
	logger.Info("Bitfinex WebSocket stopped")
}
