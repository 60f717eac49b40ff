package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spottrader/exchange"
	"spottrader/order"
)

type fakeCommands struct {
	placed   int
	replaced []string
	err      error
}

func (f *fakeCommands) PlaceOrder(ctx context.Context, req order.Request) (order.Order, error) {
	f.placed++
	if f.err != nil {
		return order.Order{}, f.err
	}
	return order.FromRequest(req, "1001", order.StatusActive, time.Now()), nil
}

func (f *fakeCommands) ReplaceOrder(ctx context.Context, id string, req order.Request) (order.Order, error) {
	f.replaced = append(f.replaced, id)
	return order.FromRequest(req, id, order.StatusActive, time.Now()), nil
}

func (f *fakeCommands) GetBalances(ctx context.Context) (exchange.Balances, error) {
	return exchange.Balances{Base: dec("1"), Quote: dec("2")}, nil
}

func (f *fakeCommands) GetFees(ctx context.Context) (exchange.Fees, error) {
	return exchange.Fees{}, nil
}

func (f *fakeCommands) GetOpenOrders(ctx context.Context) ([]order.Order, error) { return nil, nil }

func (f *fakeCommands) GetPastTrades(ctx context.Context, pair string) ([]order.Order, error) {
	return nil, nil
}

type fakeDistLock struct {
	held     bool
	err      error
	unlocked []string
}

func (l *fakeDistLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return !l.held, nil
}

func (l *fakeDistLock) Unlock(ctx context.Context, key string) error {
	l.unlocked = append(l.unlocked, key)
	return nil
}

func (l *fakeDistLock) Close() error { return nil }

func buyRequest() order.Request {
	return order.Request{Side: order.SideBuy, Type: "EXCHANGE LIMIT", Price: dec("40"), Amount: dec("1.25")}
}

func TestExecutorPlaceUnlocks(t *testing.T) {
	cmds := &fakeCommands{}
	dl := &fakeDistLock{}
	ex := NewExecutor(cmds, "bitfinex", "tBTCUSD", dl, time.Second)

	o, err := ex.Place(context.Background(), buyRequest())
	require.NoError(t, err)
	assert.Equal(t, "1001", o.ID)
	assert.Equal(t, []string{"order:bitfinex:tBTCUSD"}, dl.unlocked)
}

func TestExecutorSkipsWhenPairLocked(t *testing.T) {
	cmds := &fakeCommands{}
	ex := NewExecutor(cmds, "bitfinex", "tBTCUSD", &fakeDistLock{held: true}, time.Second)

	_, err := ex.Place(context.Background(), buyRequest())
	assert.ErrorIs(t, err, ErrPairLocked)
	assert.Zero(t, cmds.placed, "被其他实例锁定时不应下单")
}

func TestExecutorContinuesWhenLockServiceDown(t *testing.T) {
	cmds := &fakeCommands{}
	dl := &fakeDistLock{err: errors.New("redis down")}
	ex := NewExecutor(cmds, "bitfinex", "tBTCUSD", dl, time.Second)

	_, err := ex.Replace(context.Background(), "1001", buyRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"1001"}, cmds.replaced)
	assert.Empty(t, dl.unlocked, "未获得锁时不释放")
}

func TestExecutorPropagatesError(t *testing.T) {
	cmds := &fakeCommands{err: errors.New("insufficient balance")}
	ex := NewExecutor(cmds, "bitfinex", "tBTCUSD", nil, 0)

	_, err := ex.Place(context.Background(), buyRequest())
	assert.EqualError(t, err, "insufficient balance")
	assert.Equal(t, 1, cmds.placed, "执行器不重试")

	b, err := ex.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", b.Quote.String())
}
