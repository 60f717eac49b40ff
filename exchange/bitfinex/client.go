package bitfinex

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"spottrader/order"
)

const (
	BitfinexBaseURL = "https://api.bitfinex.com" // Bitfinex API
)

// BitfinexClient REST v2 客户端
type BitfinexClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewBitfinexClient 创建 Bitfinex 客户端实例
func NewBitfinexClient(apiKey, secretKey, baseURL string) *BitfinexClient {
	if baseURL == "" {
		baseURL = BitfinexBaseURL
	}
	return &BitfinexClient{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// nonce 毫秒时间戳，严格递增
func (c *BitfinexClient) nonce() string {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := time.Now().UnixMilli() * 1000
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return strconv.FormatInt(n, 10)
}

// signRequest 对请求进行签名
func (c *BitfinexClient) signRequest(path, nonce, body string) string {
	// 签名字符串：/api + path + nonce + body
	return sign(c.secretKey, "/api"+path+nonce+body)
}

func sign(secret, payload string) string {
	h := hmac.New(sha512.New384, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// sendRequest 发送认证请求
func (c *BitfinexClient) sendRequest(ctx context.Context, path string, body interface{}) ([]byte, error) {
	reqURL := c.baseURL + path

	bodyStr := "{}"
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body error: %w", err)
		}
		bodyStr = string(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(bodyStr))
	if err != nil {
		return nil, fmt.Errorf("create request error: %w", err)
	}

	nonce := c.nonce()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("bfx-nonce", nonce)
	req.Header.Set("bfx-apikey", c.apiKey)
	req.Header.Set("bfx-signature", c.signRequest(path, nonce, bodyStr))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body error: %w", err)
	}

	// 错误响应格式：["error", CODE, "message"]
	var errorResp []interface{}
	if err := json.Unmarshal(respBody, &errorResp); err == nil && len(errorResp) > 0 {
		if errStr, ok := errorResp[0].(string); ok && errStr == "error" {
			return nil, fmt.Errorf("API error! Message: %v", errorResp)
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error! Status: %s, Body: %s", resp.Status, string(respBody))
	}

	return respBody, nil
}

// orderBody 由订单传输形态生成请求体：卖单数量为负，市价单不带价格
func orderBody(w order.Wire) map[string]interface{} {
	amount := w.Amount
	if w.Side == string(order.SideSell) && !strings.HasPrefix(amount, "-") {
		amount = "-" + amount
	}
	body := map[string]interface{}{
		"type":   w.Type,
		"symbol": w.Symbol,
		"amount": amount,
	}
	if w.Type != OrderTypeExchangeMarket {
		body["price"] = w.Price
	}
	return body
}

// SubmitOrder 下单
func (c *BitfinexClient) SubmitOrder(ctx context.Context, req order.Request) (order.Order, error) {
	respBody, err := c.sendRequest(ctx, "/v2/auth/w/order/submit", orderBody(req.Wire()))
	if err != nil {
		return order.Order{}, err
	}
	return parseNotification(respBody)
}

// UpdateOrder 修改挂单价格和数量（保留订单号）
func (c *BitfinexClient) UpdateOrder(ctx context.Context, id string, req order.Request) (order.Order, error) {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return order.Order{}, fmt.Errorf("invalid order id %q: %w", id, err)
	}
	full := orderBody(req.Wire())
	body := map[string]interface{}{
		"id":     orderID,
		"price":  req.Price.String(),
		"amount": full["amount"],
	}

	respBody, err := c.sendRequest(ctx, "/v2/auth/w/order/update", body)
	if err != nil {
		return order.Order{}, err
	}
	return parseNotification(respBody)
}

// Wallets 查询 exchange 钱包余额
func (c *BitfinexClient) Wallets(ctx context.Context, base, quote string) (Balances, error) {
	respBody, err := c.sendRequest(ctx, "/v2/auth/r/wallets", nil)
	if err != nil {
		return Balances{}, err
	}
	return parseWallets(respBody, base, quote)
}

// Summary 查询账户手续费
func (c *BitfinexClient) Summary(ctx context.Context, percentUnits bool) (Fees, error) {
	respBody, err := c.sendRequest(ctx, "/v2/auth/r/summary", nil)
	if err != nil {
		return Fees{}, err
	}
	return parseSummary(respBody, percentUnits)
}

// ActiveOrders 查询当前挂单
func (c *BitfinexClient) ActiveOrders(ctx context.Context, symbol string) ([]order.Order, error) {
	path := "/v2/auth/r/orders"
	if symbol != "" {
		path += "/" + symbol
	}
	respBody, err := c.sendRequest(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return parseRestOrders(respBody)
}

// PastTrades 查询历史成交，最新在前
func (c *BitfinexClient) PastTrades(ctx context.Context, symbol string, limit int) ([]order.Order, error) {
	path := fmt.Sprintf("/v2/auth/r/trades/%s/hist", symbol)
	body := map[string]interface{}{"limit": limit, "sort": -1}
	respBody, err := c.sendRequest(ctx, path, body)
	if err != nil {
		return nil, err
	}
	return parsePastTrades(respBody)
}
