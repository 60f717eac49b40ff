package bitfinex

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/errs"
	"spottrader/order"
)

const executedSellOrder = `[123,null,456,"tBTCUSD",1700000000000,1700000001000,0,-0.5,"EXCHANGE FOK",null,null,null,0,"EXECUTED @ 96.9(-0.5)",null,null,96.9,96.9,0,0,null,null,null,0,0,null,null,null,"API>BFX",null,null,null]`

const activeBuyOrder = `[124,null,457,"tBTCUSD",1700000000000,1700000002000,1.25,1.25,"EXCHANGE LIMIT",null,null,null,0,"ACTIVE",null,null,40,0,0,0,null,null,null,0,0,null,null,null,"API>BFX",null,null,null]`

func TestSignRequest(t *testing.T) {
	client := NewBitfinexClient("key", "secret", "")

	got := client.signRequest("/v2/auth/r/wallets", "1000", "{}")

	h := hmac.New(sha512.New384, []byte("secret"))
	h.Write([]byte("/api/v2/auth/r/wallets1000{}"))
	want := hex.EncodeToString(h.Sum(nil))
	if got != want {
		t.Errorf("签名错误: 期望 %s, 得到 %s", want, got)
	}
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	client := NewBitfinexClient("key", "secret", "")
	prev := client.nonce()
	for i := 0; i < 100; i++ {
		next := client.nonce()
		if next <= prev && len(next) <= len(prev) {
			t.Fatalf("nonce 未递增: %s -> %s", prev, next)
		}
		prev = next
	}
}

func TestParseOrderArray(t *testing.T) {
	var arr []interface{}
	if err := decode([]byte(executedSellOrder), &arr); err != nil {
		t.Fatalf("解析测试数据失败: %v", err)
	}
	o, err := parseOrderArray(arr, order.SourceSocket)
	if err != nil {
		t.Fatalf("解析订单失败: %v", err)
	}
	if o.ID != "123" || o.Side != order.SideSell || o.Status != order.StatusExecuted {
		t.Errorf("订单字段错误: %+v", o)
	}
	if !o.Amount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("数量应取原始数量的绝对值, 得到 %s", o.Amount)
	}
	if !o.Price.Equal(decimal.RequireFromString("96.9")) {
		t.Errorf("价格错误: %s", o.Price)
	}
	if o.Source != order.SourceSocket {
		t.Errorf("来源错误: %s", o.Source)
	}

	if _, err := parseOrderArray(arr[:5], order.SourceSocket); !errs.IsParse(err) {
		t.Errorf("字段不足应返回 ParseError, 得到 %v", err)
	}
}

func TestParseRestOrders(t *testing.T) {
	orders, err := parseRestOrders([]byte("[" + activeBuyOrder + "]"))
	if err != nil {
		t.Fatalf("解析挂单失败: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("期望 1 个挂单, 得到 %d", len(orders))
	}
	o := orders[0]
	if o.Side != order.SideBuy || o.Status != order.StatusActive || o.Source != order.SourceRestActive {
		t.Errorf("挂单字段错误: %+v", o)
	}
}

func TestParsePastTrades(t *testing.T) {
	data := `[[9001,"tBTCUSD",1700000005000,124,1.25,40,"EXCHANGE LIMIT",40,1,-0.001,"BTC",0],
	          [9000,"tBTCUSD",1700000000000,123,-0.5,96.9,"EXCHANGE FOK",96.9,-1,-0.1,"USD",0]]`
	trades, err := parsePastTrades([]byte(data))
	if err != nil {
		t.Fatalf("解析历史成交失败: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("期望 2 笔成交, 得到 %d", len(trades))
	}
	if trades[0].ID != "124" || trades[0].Side != order.SideBuy || trades[0].Status != order.StatusExecuted {
		t.Errorf("最新成交字段错误: %+v", trades[0])
	}
	if trades[1].Side != order.SideSell || !trades[1].Amount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("卖出成交字段错误: %+v", trades[1])
	}
}

func TestParseWallets(t *testing.T) {
	data := `[["exchange","USD",60,0,50],["exchange","BTC",0.3,0,null],["margin","USD",1000,0,1000]]`
	bal, err := parseWallets([]byte(data), "BTC", "USD")
	if err != nil {
		t.Fatalf("解析余额失败: %v", err)
	}
	if !bal.Quote.Equal(decimal.NewFromInt(50)) {
		t.Errorf("计价币应取可用余额 50, 得到 %s", bal.Quote)
	}
	if !bal.Base.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("可用余额为空时应取总余额 0.3, 得到 %s", bal.Base)
	}

	if _, err := parseWallets([]byte(`[["exchange","USD","abc",0,"abc"]]`), "BTC", "USD"); !errs.IsParse(err) {
		t.Errorf("非法余额应返回 ParseError, 得到 %v", err)
	}
}

func TestParseSummary(t *testing.T) {
	data := `[null,null,null,null,[[0.001,0.001,0.001,null,null,-0.0002],[0.002,0.002,0.002,null,null,0.00075]],null,null]`
	fees, err := parseSummary([]byte(data), false)
	if err != nil {
		t.Fatalf("解析手续费失败: %v", err)
	}
	if !fees.Maker.Equal(decimal.RequireFromString("0.001")) || !fees.Taker.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("手续费错误: %+v", fees)
	}

	pct, err := parseSummary([]byte(`[null,null,null,null,[[0,0,0.1],[0,0,0.2]]]`), true)
	if err != nil {
		t.Fatalf("解析百分比手续费失败: %v", err)
	}
	if !pct.Maker.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("百分比手续费应除以 100, 得到 %s", pct.Maker)
	}

	if _, err := parseSummary([]byte(`[null,null]`), false); !errs.IsParse(err) {
		t.Errorf("缺少手续费应返回 ParseError, 得到 %v", err)
	}
}

func TestParseNotification(t *testing.T) {
	submit := `[1700000000000,"on-req",null,null,[` + activeBuyOrder + `],null,"SUCCESS","Submitting 1 orders."]`
	o, err := parseNotification([]byte(submit))
	if err != nil {
		t.Fatalf("解析下单通知失败: %v", err)
	}
	if o.ID != "124" || o.Source != order.SourceRequest {
		t.Errorf("下单通知字段错误: %+v", o)
	}

	update := `[1700000000000,"ou-req",null,null,` + activeBuyOrder + `,null,"SUCCESS","Submitting update."]`
	if o, err := parseNotification([]byte(update)); err != nil || o.ID != "124" {
		t.Errorf("解析改单通知失败: %+v %v", o, err)
	}

	rejected := `[1700000000000,"on-req",null,null,[],null,"ERROR","Invalid order: not enough exchange balance"]`
	if _, err := parseNotification([]byte(rejected)); err == nil {
		t.Error("被拒绝的订单应返回错误")
	}
}

func TestSubmitOrderSendsSignedSellAmount(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/auth/w/order/submit" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		nonce := r.Header.Get("bfx-nonce")
		if r.Header.Get("bfx-apikey") != "key" {
			t.Errorf("缺少 bfx-apikey")
		}
		if r.Header.Get("bfx-signature") != sign("secret", "/api"+r.URL.Path+nonce+string(raw)) {
			t.Errorf("签名校验失败")
		}
		_ = json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`[1700000000000,"on-req",null,null,[` + executedSellOrder + `],null,"SUCCESS","ok"]`))
	}))
	defer server.Close()

	client := NewBitfinexClient("key", "secret", server.URL)
	req := order.Request{
		Symbol: "tBTCUSD",
		Side:   order.SideSell,
		Type:   OrderTypeExchangeFOK,
		Price:  decimal.RequireFromString("96.903"),
		Amount: decimal.RequireFromString("0.5"),
	}
	o, err := client.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if o.ID != "123" {
		t.Errorf("订单号错误: %s", o.ID)
	}
	if gotBody["amount"] != "-0.5" || gotBody["price"] != "96.903" || gotBody["type"] != OrderTypeExchangeFOK {
		t.Errorf("请求体错误: %v", gotBody)
	}
}

func TestAPIErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`["error",10100,"apikey: invalid"]`))
	}))
	defer server.Close()

	adapter, err := NewBitfinexAdapter(Config{APIKey: "key", SecretKey: "secret", Symbol: "BTCUSD", RESTURL: server.URL}, 0)
	if err != nil {
		t.Fatalf("创建适配器失败: %v", err)
	}
	_, err = adapter.GetBalances(context.Background())
	if !errs.IsTransport(err) {
		t.Errorf("API 错误应包装为 TransportError, 得到 %v", err)
	}
}

func TestConvertSymbol(t *testing.T) {
	cases := map[string]string{
		"BTCUSD":  "tBTCUSD",
		"btcusd":  "tBTCUSD",
		"BTC/USD": "tBTCUSD",
		"tBTCUSD": "tBTCUSD",
	}
	for in, want := range cases {
		if got := ConvertToBitfinexSymbol(in); got != want {
			t.Errorf("ConvertToBitfinexSymbol(%s) = %s, 期望 %s", in, got, want)
		}
	}
	base, quote := splitPair("tBTCUSD")
	if base != "BTC" || quote != "USD" {
		t.Errorf("交易对拆分错误: %s %s", base, quote)
	}
}

func TestWebSocketDispatch(t *testing.T) {
	ws := NewWebSocketManager("", "key", "secret", 0)

	var ticks []average.Tick
	var orders []order.Order
	ws.SetHandlers(func(tk average.Tick) { ticks = append(ticks, tk) }, func(o order.Order) { orders = append(orders, o) })

	ws.processMessage([]byte(`{"event":"subscribed","channel":"trades","chanId":17,"symbol":"tBTCUSD","pair":"BTCUSD"}`))
	ws.processMessage([]byte(`[17,[[1,1700000000000,0.1,100]]]`))
	ws.processMessage([]byte(`[17,"hb"]`))
	ws.processMessage([]byte(`[17,"te",[2,1700000001000,-0.25,101.5]]`))
	ws.processMessage([]byte(`[17,"tu",[2,1700000001000,-0.25,101.5]]`))
	ws.processMessage([]byte(`[99,"te",[3,1700000001000,1,1]]`))

	if len(ticks) != 1 {
		t.Fatalf("只有已订阅频道的 te 消息生成成交, 得到 %d", len(ticks))
	}
	if !ticks[0].Price.Equal(decimal.RequireFromString("101.5")) || !ticks[0].Volume.Equal(decimal.RequireFromString("-0.25")) {
		t.Errorf("成交字段错误: %+v", ticks[0])
	}

	ws.processMessage([]byte(`{"event":"auth","status":"OK","chanId":0}`))
	ws.processMessage([]byte(`[0,"os",[` + activeBuyOrder + `]]`))
	ws.processMessage([]byte(`[0,"oc",` + executedSellOrder + `]`))
	ws.processMessage([]byte(`[0,"wu",["exchange","USD",50,0,50]]`))

	if len(orders) != 2 {
		t.Fatalf("期望 2 条订单推送, 得到 %d", len(orders))
	}
	if orders[0].Status != order.StatusActive || orders[1].Status != order.StatusExecuted {
		t.Errorf("订单推送状态错误: %s %s", orders[0].Status, orders[1].Status)
	}
}

func TestWebSocketHandlerPanicKeepsReading(t *testing.T) {
	ws := NewWebSocketManager("", "key", "secret", 0)

	var orders []order.Order
	calls := 0
	ws.SetHandlers(func(average.Tick) {}, func(o order.Order) {
		calls++
		if calls == 1 {
			panic("handler boom")
		}
		orders = append(orders, o)
	})

	ws.processMessage([]byte(`{"event":"auth","status":"OK","chanId":0}`))
	ws.safeProcess([]byte(`[0,"on",` + activeBuyOrder + `]`))
	ws.safeProcess([]byte(`[0,"oc",` + executedSellOrder + `]`))

	if len(orders) != 1 {
		t.Fatalf("panic 之后的消息仍应被处理, 得到 %d 条", len(orders))
	}
	if orders[0].Status != order.StatusExecuted {
		t.Errorf("第二条订单推送状态错误: %s", orders[0].Status)
	}
}

func TestOrderBodyFromWire(t *testing.T) {
	cases := []struct {
		name      string
		req       order.Request
		amount    string
		wantPrice bool
	}{
		{"limit buy", order.Request{Symbol: "tBTCUSD", Side: order.SideBuy, Type: OrderTypeExchangeLimit, Price: decimal.RequireFromString("40"), Amount: decimal.RequireFromString("1.25")}, "1.25", true},
		{"fok sell", order.Request{Symbol: "tBTCUSD", Side: order.SideSell, Type: OrderTypeExchangeFOK, Price: decimal.RequireFromString("96.903"), Amount: decimal.RequireFromString("0.5")}, "-0.5", true},
		{"market sell", order.Request{Symbol: "tBTCUSD", Side: order.SideSell, Type: OrderTypeExchangeMarket, Amount: decimal.RequireFromString("0.5")}, "-0.5", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := orderBody(tc.req.Wire())
			if body["amount"] != tc.amount {
				t.Errorf("数量错误: %v", body["amount"])
			}
			if body["symbol"] != "tBTCUSD" || body["type"] != tc.req.Type {
				t.Errorf("请求体错误: %v", body)
			}
			if _, ok := body["price"]; ok != tc.wantPrice {
				t.Errorf("价格字段存在性错误: %v", body)
			}
		})
	}
}

func TestUpdateOrderSendsSignedAmount(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/auth/w/order/update" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`[1700000000000,"ou-req",null,null,[` + executedSellOrder + `],null,"SUCCESS","ok"]`))
	}))
	defer server.Close()

	client := NewBitfinexClient("key", "secret", server.URL)
	_, err := client.UpdateOrder(context.Background(), "123", order.Request{
		Symbol: "tBTCUSD",
		Side:   order.SideSell,
		Type:   OrderTypeExchangeLimit,
		Price:  decimal.RequireFromString("105"),
		Amount: decimal.RequireFromString("0.5"),
	})
	if err != nil {
		t.Fatalf("改单失败: %v", err)
	}
	if gotBody["amount"] != "-0.5" || gotBody["price"] != "105" || gotBody["id"] != float64(123) {
		t.Errorf("请求体错误: %v", gotBody)
	}
}
