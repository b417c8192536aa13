package orders

import (
	"context"
	"testing"
	"time"

	"robotrader/internal/funds"
	"robotrader/internal/trading"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) PlaceBuy(ctx context.Context, code string, qty int64, price float64) (string, error) {
	args := m.Called(ctx, code, qty, price)
	return args.String(0), args.Error(1)
}

func (m *MockService) PlaceSell(ctx context.Context, code string, qty int64, price float64, market bool) (string, error) {
	args := m.Called(ctx, code, qty, price, market)
	return args.String(0), args.Error(1)
}

func (m *MockService) Cancel(ctx context.Context, brokerID string) error {
	args := m.Called(ctx, brokerID)
	return args.Error(0)
}

func (m *MockService) CompletedOrders(ctx context.Context) ([]Fill, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Fill), args.Error(1)
}

type recordingJournal struct {
	buys  int
	sells int
}

func (j *recordingJournal) RecordBuy(code, name string, qty int64, price float64, meta trading.Metadata) error {
	j.buys++
	return nil
}

func (j *recordingJournal) RecordSell(code string, qty int64, price float64, pnl float64) error {
	j.sells++
	return nil
}

type coordFixture struct {
	svc     *MockService
	manager *trading.Manager
	ledger  *funds.Ledger
	journal *recordingJournal
	coord   *Coordinator
}

func newFixture(t *testing.T) *coordFixture {
	t.Helper()
	svc := &MockService{}
	manager := trading.NewManager(0, 0)
	ledger := funds.NewLedger(decimal.NewFromInt(1_000_000), 0.5, 1.0)
	journal := &recordingJournal{}
	coord := NewCoordinator(svc, manager, ledger, journal, nil, 3*time.Minute)
	return &coordFixture{svc: svc, manager: manager, ledger: ledger, journal: journal, coord: coord}
}

// stageBuy reserves funds and submits a tracked buy, mirroring the engine's
// execution sequence.
func (f *coordFixture) stageBuy(t *testing.T, code, clientID, brokerID string, qty int64, price float64) {
	t.Helper()
	require.NoError(t, f.manager.Select(code, "Test Corp", "test"))
	amount := decimal.NewFromInt(qty).Mul(decimal.NewFromFloat(price))
	require.NoError(t, f.ledger.Reserve(clientID, amount))
	require.NoError(t, f.manager.BeginBuy(code, clientID))
	f.manager.UpdateOrderID(code, brokerID)
	f.coord.Track(Order{
		BrokerID: brokerID,
		ClientID: clientID,
		Code:     code,
		Side:     SideBuy,
		Quantity: qty,
		Price:    price,
	})
}

func TestBuyFillSettlesOnce(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)

	fill := Fill{BrokerID: "broker-1", Code: "005930", Side: SideBuy, Quantity: 10, Price: 10_000}
	f.coord.OnFill(fill)

	snap := f.ledger.Snapshot()
	assert.True(t, snap.Invested.Equal(decimal.NewFromInt(100_000)))
	assert.True(t, snap.Reserved.IsZero())
	assert.Equal(t, 1, f.journal.buys)

	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StatePositioned, v.State)

	// The poll path delivering the same fill again settles nothing: the
	// order is no longer tracked.
	f.coord.OnFill(fill)
	snap = f.ledger.Snapshot()
	assert.True(t, snap.Invested.Equal(decimal.NewFromInt(100_000)))
	assert.Equal(t, 1, f.journal.buys)
}

func TestPollDeliversFills(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)

	f.svc.On("CompletedOrders", mock.Anything).Return([]Fill{
		{BrokerID: "broker-1", Code: "005930", Side: SideBuy, Quantity: 10, Price: 10_000},
		{BrokerID: "broker-other", Code: "999999", Side: SideBuy, Quantity: 1, Price: 1},
	}, nil)

	require.NoError(t, f.coord.Poll(context.Background()))

	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StatePositioned, v.State)
	assert.Empty(t, f.coord.Pending())
	f.svc.AssertExpectations(t)
}

func TestPollSkipsWhenNothingPending(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.Poll(context.Background()))
	f.svc.AssertNotCalled(t, "CompletedOrders", mock.Anything)
}

func TestSellFillReleasesInvestment(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)
	f.coord.OnFill(Fill{BrokerID: "broker-1", Code: "005930", Side: SideBuy, Quantity: 10, Price: 10_000})

	require.NoError(t, f.manager.MarkSellCandidate("005930", "exit"))
	require.NoError(t, f.manager.BeginSell("005930", "client-2"))
	f.coord.Track(Order{
		BrokerID: "broker-2",
		ClientID: "client-2",
		Code:     "005930",
		Side:     SideSell,
		Quantity: 10,
		Price:    11_000,
	})

	f.coord.OnFill(Fill{BrokerID: "broker-2", Code: "005930", Side: SideSell, Quantity: 10, Price: 11_000})

	snap := f.ledger.Snapshot()
	assert.True(t, snap.Invested.IsZero())
	assert.True(t, snap.Total.Equal(decimal.NewFromInt(1_010_000)), "total absorbs the 10k profit")
	assert.Equal(t, 1, f.journal.sells)

	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StateCompleted, v.State)
	assert.Equal(t, 10_000.0, v.RealizedPnL)
}

func TestTimeoutRevertsAndReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)

	f.svc.On("Cancel", mock.Anything, "broker-1").Return(nil)

	f.coord.nowFn = func() time.Time { return time.Now().Add(10 * time.Minute) }
	f.coord.CheckTimeouts(context.Background())

	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StateSelected, v.State)

	snap := f.ledger.Snapshot()
	assert.True(t, snap.Reserved.IsZero())
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(1_000_000)))
	assert.Empty(t, f.coord.Pending())
	f.svc.AssertExpectations(t)
}

func TestTimeoutLosesRaceToFill(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)

	// Fill lands before the timeout sweep runs.
	f.coord.OnFill(Fill{BrokerID: "broker-1", Code: "005930", Side: SideBuy, Quantity: 10, Price: 10_000})

	f.coord.nowFn = func() time.Time { return time.Now().Add(10 * time.Minute) }
	f.coord.CheckTimeouts(context.Background())

	// Nothing was pending anymore, so no cancel and no revert.
	f.svc.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StatePositioned, v.State)
}

func TestFillAfterTimeoutSettlesNothing(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)

	f.svc.On("Cancel", mock.Anything, "broker-1").Return(nil)
	f.coord.nowFn = func() time.Time { return time.Now().Add(10 * time.Minute) }
	f.coord.CheckTimeouts(context.Background())

	// The broker filled anyway and the fill arrives after expiry. The order
	// is no longer tracked, so the reverted state and ledger stay untouched.
	f.coord.OnFill(Fill{BrokerID: "broker-1", Code: "005930", Side: SideBuy, Quantity: 10, Price: 10_000})

	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StateSelected, v.State)

	snap := f.ledger.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, snap.Invested.IsZero())
	assert.Equal(t, 0, f.journal.buys)
}

func TestCancelPendingBuysSweepsOnlyBuys(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)

	// An in-flight sell for another stock must survive the sweep.
	f.stageBuy(t, "000660", "client-2", "broker-2", 5, 100_000)
	f.coord.OnFill(Fill{BrokerID: "broker-2", Code: "000660", Side: SideBuy, Quantity: 5, Price: 100_000})
	require.NoError(t, f.manager.MarkSellCandidate("000660", "exit"))
	require.NoError(t, f.manager.BeginSell("000660", "client-3"))
	f.coord.Track(Order{
		BrokerID: "broker-3",
		ClientID: "client-3",
		Code:     "000660",
		Side:     SideSell,
		Quantity: 5,
		Price:    101_000,
	})

	f.svc.On("Cancel", mock.Anything, "broker-1").Return(nil)

	n := f.coord.CancelPendingBuys(context.Background())
	assert.Equal(t, 1, n)

	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StateSelected, v.State)

	snap := f.ledger.Snapshot()
	assert.True(t, snap.Reserved.IsZero(), "swept buy releases its reservation")

	pending := f.coord.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, SideSell, pending[0].Side)
	f.svc.AssertExpectations(t)
}

func TestSellTimeoutKeepsReservationUntouched(t *testing.T) {
	f := newFixture(t)
	f.stageBuy(t, "005930", "client-1", "broker-1", 10, 10_000)
	f.coord.OnFill(Fill{BrokerID: "broker-1", Code: "005930", Side: SideBuy, Quantity: 10, Price: 10_000})

	require.NoError(t, f.manager.MarkSellCandidate("005930", "exit"))
	require.NoError(t, f.manager.BeginSell("005930", "client-2"))
	f.coord.Track(Order{
		BrokerID: "broker-2",
		ClientID: "client-2",
		Code:     "005930",
		Side:     SideSell,
		Quantity: 10,
		Price:    11_000,
	})

	f.svc.On("Cancel", mock.Anything, "broker-2").Return(nil)
	f.coord.nowFn = func() time.Time { return time.Now().Add(10 * time.Minute) }
	f.coord.CheckTimeouts(context.Background())

	v, _ := f.manager.Get("005930")
	assert.Equal(t, trading.StateSellCandidate, v.State)
	require.NotNil(t, v.Position)

	// Sells never held a reservation, so invested stays put.
	snap := f.ledger.Snapshot()
	assert.True(t, snap.Invested.Equal(decimal.NewFromInt(100_000)))
}
