package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test_spottrader.db"))
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteTraderState(t *testing.T) {
	st := newTestSQLite(t)

	// 1. 没有记录时返回 nil
	state, err := st.GetLastTraderState("tBTCUSD")
	if err != nil {
		t.Fatalf("查询空表失败: %v", err)
	}
	if state != nil {
		t.Fatalf("空表应返回 nil, 得到 %+v", state)
	}

	// 2. 返回最新一条，十进制精度不丢失
	first := &TraderState{
		Symbol:         "tBTCUSD",
		BalanceQuote:   decimal.RequireFromString("50"),
		BalanceBase:    decimal.RequireFromString("0"),
		ResistanceZone: decimal.RequireFromString("40.44"),
		SupportZone:    decimal.RequireFromString("39.2"),
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	second := &TraderState{
		Symbol:         "tBTCUSD",
		BalanceQuote:   decimal.RequireFromString("0.00000001"),
		BalanceBase:    decimal.RequireFromString("1.23456789"),
		ResistanceZone: decimal.RequireFromString("50.55"),
		SupportZone:    decimal.RequireFromString("49"),
	}
	other := &TraderState{Symbol: "tETHUSD", BalanceQuote: decimal.NewFromInt(7)}
	for _, s := range []*TraderState{first, second, other} {
		if err := st.SaveTraderState(s); err != nil {
			t.Fatalf("保存交易状态失败: %v", err)
		}
	}

	state, err = st.GetLastTraderState("tBTCUSD")
	if err != nil {
		t.Fatalf("查询交易状态失败: %v", err)
	}
	if state == nil {
		t.Fatal("应返回最新交易状态")
	}
	if !state.BalanceBase.Equal(second.BalanceBase) || !state.BalanceQuote.Equal(second.BalanceQuote) {
		t.Errorf("余额不正确: %s / %s", state.BalanceBase, state.BalanceQuote)
	}
	if state.ResistanceZone.String() != "50.55" || state.SupportZone.String() != "49" {
		t.Errorf("阈值不正确: %s / %s", state.ResistanceZone, state.SupportZone)
	}
	if state.CreatedAt.IsZero() {
		t.Error("未填充创建时间")
	}
}

func TestSQLiteOrderUpdates(t *testing.T) {
	st := newTestSQLite(t)

	for i, status := range []string{"ACTIVE", "EXECUTED"} {
		rec := &OrderRecord{
			OrderID:   "1001",
			Symbol:    "tBTCUSD",
			Side:      "buy",
			Type:      "EXCHANGE LIMIT",
			Price:     decimal.RequireFromString("40"),
			Amount:    decimal.RequireFromString("1.25"),
			Status:    status,
			Source:    "socket",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.SaveOrderUpdate(rec); err != nil {
			t.Fatalf("保存订单更新失败: %v", err)
		}
	}

	records, err := st.QueryOrderUpdates("tBTCUSD", 10)
	if err != nil {
		t.Fatalf("查询订单更新失败: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("期望 2 条记录, 得到 %d", len(records))
	}
	if records[0].Status != "EXECUTED" {
		t.Errorf("应按时间倒序返回, 第一条状态: %s", records[0].Status)
	}
	if records[0].Amount.String() != "1.25" {
		t.Errorf("数量不正确: %s", records[0].Amount)
	}

	records, _ = st.QueryOrderUpdates("tETHUSD", 10)
	if len(records) != 0 {
		t.Errorf("其他交易对不应有记录: %d", len(records))
	}
}

func TestSQLiteEventsAndLogs(t *testing.T) {
	st := newTestSQLite(t)

	if err := st.SaveEvent("stop_loss", map[string]interface{}{"price": "97"}); err != nil {
		t.Errorf("保存事件失败: %v", err)
	}
	if err := st.SaveLog(&LogRecord{Timestamp: time.Now(), Level: "INFO", Message: "hello"}); err != nil {
		t.Errorf("保存日志失败: %v", err)
	}

	var n int
	if err := st.db.QueryRow(`SELECT COUNT(*) FROM events WHERE event_type = 'stop_loss'`).Scan(&n); err != nil || n != 1 {
		t.Errorf("事件数量不正确: %d (%v)", n, err)
	}
	if err := st.db.QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&n); err != nil || n != 1 {
		t.Errorf("日志数量不正确: %d (%v)", n, err)
	}

	if err := st.Close(); err != nil {
		t.Errorf("关闭失败: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("重复关闭应无错误: %v", err)
	}
}
