package trader

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spottrader/average"
	"spottrader/order"
	"spottrader/quant"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	tr  *Trader
	now time.Time
}

func testParams() Params {
	return Params{
		Symbol:        "tBTCUSD",
		Exchange:      "bitfinex",
		Risk:          dec("0.02"),
		MaxLoss:       dec("0.02"),
		MinGain:       dec("0.01"),
		SellOffset:    dec("0.001"),
		SupportMargin: dec("0.02"),
		MaxWait:       time.Hour,
		SellType:      "EXCHANGE FOK",
		BuyType:       "EXCHANGE LIMIT",
	}
}

// 窗口 1s、minTrades=0，每笔成交间隔 2s，均价即最新成交价
func newHarness(p Params) *harness {
	h := &harness{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := quant.New(5, decimal.Zero, 8)
	avg := average.New(time.Second, 0, q)
	avg.SetClock(func() time.Time { return h.now })
	h.tr = New(p, Fees{Maker: dec("0.001"), Taker: dec("0.002")}, q, avg)
	h.tr.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) tick(price string, pos *Position) *order.Request {
	h.now = h.now.Add(2 * time.Second)
	return h.tr.OnTick(&average.Tick{Price: dec(price), Volume: dec("1"), Timestamp: h.now}, pos)
}

func position() *Position {
	return &Position{EntryPrice: dec("100"), Amount: dec("0.5")}
}

func TestStopLossScenario(t *testing.T) {
	h := newHarness(testParams())

	req := h.tick("97", position())
	require.NotNil(t, req, "均价 97 低于止损价 97.9，必须卖出")
	assert.Equal(t, order.SideSell, req.Side)
	assert.Equal(t, string(ReasonStopLoss), req.Reason)
	assert.Equal(t, "EXCHANGE FOK", req.Type)
	assert.Equal(t, "96.903", req.Price.String())
	assert.Equal(t, "0.5", req.Amount.String())

	snap := h.tr.Snapshot()
	assert.Equal(t, "97.9", snap.StopLossPrice.String())
	assert.Equal(t, "101.1", snap.MinSellPrice.String())
	assert.True(t, snap.PendingSell)
	assert.Equal(t, StateSellArmed, snap.State)

	assert.Nil(t, h.tick("96", position()), "卖单待确认期间不再重复下单")
}

func TestStopLossDominatesTrailingState(t *testing.T) {
	h := newHarness(testParams())

	assert.Nil(t, h.tick("110", position()))
	assert.Equal(t, StateSellArmed, h.tr.State(), "超过卖出底线后记录峰值")

	req := h.tick("90", position())
	require.NotNil(t, req)
	assert.Equal(t, string(ReasonStopLoss), req.Reason)
}

func TestStopLossDominatesTimeout(t *testing.T) {
	p := testParams()
	p.MaxWait = time.Second
	h := newHarness(p)

	assert.Nil(t, h.tick("105", position()))
	req := h.tick("97", position())
	require.NotNil(t, req)
	assert.Equal(t, string(ReasonStopLoss), req.Reason)
}

func TestBelowMinSellFloorHolds(t *testing.T) {
	h := newHarness(testParams())

	assert.Nil(t, h.tick("101", position()))
	assert.Nil(t, h.tick("101.1", position()), "等于卖出底线也不动作")
	assert.Equal(t, StateHolding, h.tr.State())
	assert.True(t, h.tr.Snapshot().PeakPrice.IsZero())
}

func TestTrailingStop(t *testing.T) {
	h := newHarness(testParams())

	assert.Nil(t, h.tick("105", position()))
	assert.Nil(t, h.tick("110", position()))
	assert.Equal(t, "110", h.tr.Snapshot().PeakPrice.String())

	// maxDrop(110) = 107.8
	assert.Nil(t, h.tick("108", position()))
	req := h.tick("107", position())
	require.NotNil(t, req)
	assert.Equal(t, string(ReasonTrailingStop), req.Reason)
	assert.Equal(t, "106.89", req.Price.String())
}

func TestMaxWaitTimeout(t *testing.T) {
	p := testParams()
	p.MaxWait = 5 * time.Second
	h := newHarness(p)

	assert.Nil(t, h.tick("105", position()))
	assert.Nil(t, h.tick("104", position()))
	assert.Nil(t, h.tick("104", position()))

	req := h.tick("104", position())
	require.NotNil(t, req)
	assert.Equal(t, string(ReasonMaxWait), req.Reason)
}

func TestMaxDropFallbackWhenBandCollapses(t *testing.T) {
	p := testParams()
	p.Risk = decimal.Zero
	h := newHarness(p)

	assert.Equal(t, "109.9", h.tr.MaxDrop(dec("110")).String())

	h.tr.UpdateParams(testParams())
	assert.Equal(t, "107.8", h.tr.MaxDrop(dec("110")).String())
}

func TestNoPositionResetsScratch(t *testing.T) {
	h := newHarness(testParams())

	require.NotNil(t, h.tick("97", position()))
	assert.True(t, h.tr.PendingSell())

	assert.Nil(t, h.tick("97", nil))
	assert.Equal(t, StateFlat, h.tr.State())
	assert.False(t, h.tr.PendingSell())

	// 新持仓重新计算止损
	require.NotNil(t, h.tick("97", position()))
}

func TestClearPendingSellAllowsRetry(t *testing.T) {
	h := newHarness(testParams())

	require.NotNil(t, h.tick("97", position()))
	assert.Nil(t, h.tick("97", position()))

	h.tr.ClearPendingSell()
	assert.NotNil(t, h.tick("97", position()))
}

func TestAverageUpdatesWithoutPosition(t *testing.T) {
	h := newHarness(testParams())

	h.tick("123.45", nil)
	avg, ok := h.tr.Current()
	require.True(t, ok)
	assert.Equal(t, "123.45", avg.String())

	snap := h.tr.Snapshot()
	assert.Equal(t, "1s", snap.AverageWindow)
	assert.Equal(t, 1, snap.AverageTrades)
}

func TestBuyOrderSpendsQuoteBalance(t *testing.T) {
	h := newHarness(testParams())

	req := h.tr.BuyOrder(dec("40"), dec("50"))
	assert.Equal(t, order.SideBuy, req.Side)
	assert.Equal(t, "40", req.Price.String())
	assert.Equal(t, "1.25", req.Amount.String())
	assert.Equal(t, "50", req.Quote.String())
	assert.Equal(t, "EXCHANGE LIMIT", req.Type)

	wire := req.Wire()
	assert.Equal(t, "tBTCUSD", wire.Symbol)
	assert.Equal(t, "bitfinex", wire.Exchange)
	assert.Equal(t, "buy", wire.Side)
	assert.Equal(t, "1.25", wire.Amount)
}

func TestZones(t *testing.T) {
	h := newHarness(testParams())

	assert.Equal(t, "101.1", h.tr.ResistanceZone(dec("100")).String())
	assert.Equal(t, "98", h.tr.SupportZone(dec("100")).String())
}

func TestBuyExecutedRecomputesResistance(t *testing.T) {
	h := newHarness(testParams())

	h.tr.NoteSupportZone(dec("95"))
	h.tr.NoteSupportZone(dec("94"))
	assert.Equal(t, "95", h.tr.Thresholds().HighestSupportZone.String())

	h.tr.OnBuyExecuted(dec("100"))
	th := h.tr.Thresholds()
	assert.Equal(t, "101.1", th.ResistanceZone.String())
	assert.True(t, th.HighestSupportZone.IsZero())

	entry, ok := h.tr.EntryFromResistance()
	require.True(t, ok)
	assert.Equal(t, "100", entry.String())
}

func TestSetFeesInvalidatesCachedLimits(t *testing.T) {
	h := newHarness(testParams())

	h.tick("101", position())
	assert.Equal(t, "101.1", h.tr.Snapshot().MinSellPrice.String())

	h.tr.SetFees(Fees{Maker: dec("0.002"), Taker: dec("0.002")})
	h.tick("101", position())
	assert.Equal(t, "101.2", h.tr.Snapshot().MinSellPrice.String())
}
