package bitfinex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/average"
	"spottrader/errs"
	"spottrader/order"
)

// decode keeps numbers as json.Number so prices never pass through float64.
func decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func parseDecimal(field string, v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, errs.Parse(field, v, err)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, errs.Parse(field, v, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case nil:
		return decimal.Zero, errs.Parse(field, v, fmt.Errorf("missing value"))
	default:
		return decimal.Zero, errs.Parse(field, v, fmt.Errorf("unsupported type %T", v))
	}
}

func parseID(field string, v interface{}) (string, error) {
	switch val := v.(type) {
	case json.Number:
		return val.String(), nil
	case string:
		if val == "" {
			return "", errs.Parse(field, v, fmt.Errorf("empty id"))
		}
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", errs.Parse(field, v, fmt.Errorf("unsupported type %T", v))
	}
}

func parseMillis(v interface{}) time.Time {
	n, ok := v.(json.Number)
	if !ok {
		return time.Now()
	}
	ms, err := n.Int64()
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func sideFromAmount(amount decimal.Decimal) order.Side {
	if amount.IsNegative() {
		return order.SideSell
	}
	return order.SideBuy
}

// parseOrderArray converts an order array (REST orders endpoint or ws on/ou/oc/os)
// into the canonical order. AMOUNT_ORIG carries the side since the
// remaining amount is zero once executed.
func parseOrderArray(arr []interface{}, source order.Source) (order.Order, error) {
	if len(arr) < orderMinLen {
		return order.Order{}, errs.Parse("order", arr, fmt.Errorf("expected at least %d fields, got %d", orderMinLen, len(arr)))
	}

	id, err := parseID("order.id", arr[orderIdxID])
	if err != nil {
		return order.Order{}, err
	}
	orig, err := parseDecimal("order.amount_orig", arr[orderIdxAmountOrig])
	if err != nil {
		return order.Order{}, err
	}
	price, err := parseDecimal("order.price", arr[orderIdxPrice])
	if err != nil {
		return order.Order{}, err
	}
	if !price.IsPositive() {
		if avg, avgErr := parseDecimal("order.price_avg", arr[orderIdxPriceAvg]); avgErr == nil {
			price = avg
		}
	}

	symbol, _ := arr[orderIdxSymbol].(string)
	typ, _ := arr[orderIdxType].(string)
	status, _ := arr[orderIdxStatus].(string)

	return order.Order{
		ID:        id,
		Symbol:    symbol,
		Side:      sideFromAmount(orig),
		Type:      typ,
		Price:     price,
		Amount:    orig.Abs(),
		Status:    order.ParseStatus(status),
		Source:    source,
		UpdatedAt: parseMillis(arr[orderIdxMTSUpdate]),
	}, nil
}

// parseRestOrders parses the /v2/auth/r/orders response.
func parseRestOrders(data []byte) ([]order.Order, error) {
	var rows [][]interface{}
	if err := decode(data, &rows); err != nil {
		return nil, errs.Parse("orders", string(data), err)
	}
	out := make([]order.Order, 0, len(rows))
	for _, row := range rows {
		o, err := parseOrderArray(row, order.SourceRestActive)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// parsePastTrades parses /v2/auth/r/trades/{sym}/hist, newest first.
func parsePastTrades(data []byte) ([]order.Order, error) {
	var rows [][]interface{}
	if err := decode(data, &rows); err != nil {
		return nil, errs.Parse("trades", string(data), err)
	}
	out := make([]order.Order, 0, len(rows))
	for _, row := range rows {
		if len(row) < tradeMinLen {
			return nil, errs.Parse("trade", row, fmt.Errorf("expected at least %d fields, got %d", tradeMinLen, len(row)))
		}
		id, err := parseID("trade.order_id", row[tradeIdxOrderID])
		if err != nil {
			return nil, err
		}
		amount, err := parseDecimal("trade.exec_amount", row[tradeIdxExecAmount])
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal("trade.exec_price", row[tradeIdxExecPrice])
		if err != nil {
			return nil, err
		}
		pair, _ := row[tradeIdxPair].(string)
		typ, _ := row[tradeIdxOrderType].(string)

		out = append(out, order.Order{
			ID:        id,
			Symbol:    pair,
			Side:      sideFromAmount(amount),
			Type:      typ,
			Price:     price,
			Amount:    amount.Abs(),
			Status:    order.StatusExecuted,
			Source:    order.SourceRestPast,
			UpdatedAt: parseMillis(row[tradeIdxMTS]),
		})
	}
	return out, nil
}

// parseWallets picks the exchange wallet available balances for base/quote.
// A null available balance falls back to the total balance.
func parseWallets(data []byte, base, quote string) (Balances, error) {
	var rows [][]interface{}
	if err := decode(data, &rows); err != nil {
		return Balances{}, errs.Parse("wallets", string(data), err)
	}
	bal := Balances{Base: decimal.Zero, Quote: decimal.Zero}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		walletType, _ := row[0].(string)
		currency, _ := row[1].(string)
		if walletType != walletExchange || (currency != base && currency != quote) {
			continue
		}

		var raw interface{} = row[2]
		if len(row) >= 5 && row[4] != nil {
			raw = row[4]
		}
		amount, err := parseDecimal("wallet."+currency, raw)
		if err != nil {
			return Balances{}, err
		}
		if currency == base {
			bal.Base = amount
		} else {
			bal.Quote = amount
		}
	}
	return bal, nil
}

// parseSummary extracts fiat maker/taker fees from /v2/auth/r/summary.
func parseSummary(data []byte, percentUnits bool) (Fees, error) {
	var resp []interface{}
	if err := decode(data, &resp); err != nil {
		return Fees{}, errs.Parse("summary", string(data), err)
	}
	if len(resp) < 5 {
		return Fees{}, errs.Parse("summary", resp, fmt.Errorf("missing fee info"))
	}
	info, ok := resp[4].([]interface{})
	if !ok || len(info) < 2 {
		return Fees{}, errs.Parse("summary.fees", resp[4], fmt.Errorf("unexpected shape"))
	}

	pick := func(field string, v interface{}) (decimal.Decimal, error) {
		row, ok := v.([]interface{})
		if !ok || len(row) < 3 {
			return decimal.Zero, errs.Parse(field, v, fmt.Errorf("unexpected shape"))
		}
		return parseDecimal(field, row[2])
	}

	maker, err := pick("summary.maker_fee", info[0])
	if err != nil {
		return Fees{}, err
	}
	taker, err := pick("summary.taker_fee", info[1])
	if err != nil {
		return Fees{}, err
	}
	if percentUnits {
		hundred := decimal.NewFromInt(100)
		maker = maker.Div(hundred)
		taker = taker.Div(hundred)
	}
	return Fees{Maker: maker, Taker: taker}, nil
}

// parseNotification extracts the order from a write endpoint notification
// [MTS, TYPE, MSG_ID, null, DATA, CODE, STATUS, TEXT]. submit nests DATA one
// level deeper than update.
func parseNotification(data []byte) (order.Order, error) {
	var resp []interface{}
	if err := decode(data, &resp); err != nil {
		return order.Order{}, errs.Parse("notification", string(data), err)
	}
	if len(resp) < 7 {
		return order.Order{}, errs.Parse("notification", resp, fmt.Errorf("short notification"))
	}
	if status, _ := resp[6].(string); status != "" && status != "SUCCESS" {
		text, _ := resp[len(resp)-1].(string)
		return order.Order{}, fmt.Errorf("order rejected: %s %s", status, text)
	}

	payload, ok := resp[4].([]interface{})
	if !ok || len(payload) == 0 {
		return order.Order{}, errs.Parse("notification.data", resp[4], fmt.Errorf("empty order payload"))
	}
	if nested, ok := payload[0].([]interface{}); ok {
		payload = nested
	}
	return parseOrderArray(payload, order.SourceRequest)
}

// parsePublicTrade converts [ID, MTS, AMOUNT, PRICE] into a tick.
func parsePublicTrade(arr []interface{}) (average.Tick, error) {
	if len(arr) < publicTradeMinLen {
		return average.Tick{}, errs.Parse("trade", arr, fmt.Errorf("expected %d fields", publicTradeMinLen))
	}
	amount, err := parseDecimal("trade.amount", arr[publicTradeIdxAmount])
	if err != nil {
		return average.Tick{}, err
	}
	price, err := parseDecimal("trade.price", arr[publicTradeIdxPrice])
	if err != nil {
		return average.Tick{}, err
	}
	return average.Tick{
		Price:     price,
		Volume:    amount,
		Timestamp: parseMillis(arr[publicTradeIdxMTS]),
	}, nil
}
