package trading

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(30*time.Minute, 2)
	m.nowFn = func() time.Time {
		return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	}
	return m
}

func selectStock(t *testing.T, m *Manager, code string) {
	t.Helper()
	require.NoError(t, m.Select(code, "Test Corp", "momentum"))
}

func TestSelectAndReSelect(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")

	v, ok := m.Get("005930")
	require.True(t, ok)
	assert.Equal(t, StateSelected, v.State)

	// Selecting again while active is a no-op.
	require.NoError(t, m.Select("005930", "Test Corp", "again"))
	v, _ = m.Get("005930")
	assert.Equal(t, "momentum", v.Metadata.Reason)
}

func TestBuyLifecycle(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")

	require.NoError(t, m.BeginBuy("005930", "client-1"))
	v, _ := m.Get("005930")
	assert.Equal(t, StateBuyPending, v.State)
	assert.Equal(t, "client-1", v.CurrentOrderID)

	applied, err := m.ApplyBuyFill("005930", "client-1", 10, 70000)
	require.NoError(t, err)
	assert.True(t, applied)

	v, _ = m.Get("005930")
	assert.Equal(t, StatePositioned, v.State)
	require.NotNil(t, v.Position)
	assert.Equal(t, int64(10), v.Position.Quantity)
	assert.Equal(t, 70000.0, v.Position.AvgPrice)
	assert.Equal(t, 1, v.DailyBuyCount)
}

func TestDuplicateBuyFillAppliedOnce(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")
	require.NoError(t, m.BeginBuy("005930", "client-1"))

	applied, err := m.ApplyBuyFill("005930", "client-1", 10, 70000)
	require.NoError(t, err)
	assert.True(t, applied)

	// Same fill delivered again via the other channel.
	applied, err = m.ApplyBuyFill("005930", "client-1", 10, 70000)
	require.NoError(t, err)
	assert.False(t, applied)

	v, _ := m.Get("005930")
	assert.Equal(t, int64(10), v.Position.Quantity)
	assert.Equal(t, 1, v.DailyBuyCount)
}

func TestBeginBuyGuards(t *testing.T) {
	m := newTestManager(t)

	assert.ErrorIs(t, m.BeginBuy("unknown", "c"), ErrUnknownStock)

	selectStock(t, m, "005930")
	require.NoError(t, m.BeginBuy("005930", "c1"))
	assert.ErrorIs(t, m.BeginBuy("005930", "c2"), ErrAlreadyBuying)
}

func TestBuyCooldownBlocksReentry(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")
	require.NoError(t, m.BeginBuy("005930", "c1"))
	_, err := m.ApplyBuyFill("005930", "c1", 10, 70000)
	require.NoError(t, err)
	require.NoError(t, m.MarkSellCandidate("005930", "exit"))
	require.NoError(t, m.BeginSell("005930", "c2"))
	_, _, err = m.ApplySellFill("005930", "c2", 10, 71000)
	require.NoError(t, err)

	// Completed, but inside the 30 minute cooldown.
	assert.ErrorIs(t, m.BeginBuy("005930", "c3"), ErrCooldownActive)

	// After the cooldown the re-entry goes through.
	m.nowFn = func() time.Time {
		return time.Date(2026, 8, 31, 10, 31, 0, 0, time.UTC)
	}
	assert.NoError(t, m.BeginBuy("005930", "c3"))
}

func TestDailyLimitBlocksThirdBuy(t *testing.T) {
	m := newTestManager(t)
	m.buyCooldown = 0
	selectStock(t, m, "005930")

	roundTrip := func(id string) {
		require.NoError(t, m.BeginBuy("005930", id))
		_, err := m.ApplyBuyFill("005930", id, 10, 70000)
		require.NoError(t, err)
		require.NoError(t, m.MarkSellCandidate("005930", "exit"))
		require.NoError(t, m.BeginSell("005930", id+"-s"))
		_, _, err = m.ApplySellFill("005930", id+"-s", 10, 70500)
		require.NoError(t, err)
	}

	roundTrip("c1")
	roundTrip("c2")
	assert.ErrorIs(t, m.BeginBuy("005930", "c3"), ErrDailyLimitReached)
}

func TestAbortBuyRevertTarget(t *testing.T) {
	m := newTestManager(t)
	m.buyCooldown = 0
	selectStock(t, m, "005930")

	// First buy aborts back to SELECTED.
	require.NoError(t, m.BeginBuy("005930", "c1"))
	require.NoError(t, m.AbortBuy("005930", "rejected"))
	v, _ := m.Get("005930")
	assert.Equal(t, StateSelected, v.State)

	// After a completed round trip an abort reverts to COMPLETED.
	require.NoError(t, m.BeginBuy("005930", "c2"))
	_, err := m.ApplyBuyFill("005930", "c2", 10, 70000)
	require.NoError(t, err)
	require.NoError(t, m.MarkSellCandidate("005930", "exit"))
	require.NoError(t, m.BeginSell("005930", "c3"))
	_, _, err = m.ApplySellFill("005930", "c3", 10, 70500)
	require.NoError(t, err)

	require.NoError(t, m.BeginBuy("005930", "c4"))
	require.NoError(t, m.AbortBuy("005930", "rejected"))
	v, _ = m.Get("005930")
	assert.Equal(t, StateCompleted, v.State)
}

func TestSellLifecycleRealizesPnL(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")
	require.NoError(t, m.BeginBuy("005930", "c1"))
	_, err := m.ApplyBuyFill("005930", "c1", 10, 70000)
	require.NoError(t, err)

	require.NoError(t, m.MarkSellCandidate("005930", "take profit"))
	require.NoError(t, m.BeginSell("005930", "c2"))

	applied, pnl, err := m.ApplySellFill("005930", "c2", 10, 72000)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 20000.0, pnl)

	v, _ := m.Get("005930")
	assert.Equal(t, StateCompleted, v.State)
	assert.Nil(t, v.Position)
	assert.Equal(t, 20000.0, v.RealizedPnL)

	// Duplicate sell fill is a no-op.
	applied, _, err = m.ApplySellFill("005930", "c2", 10, 72000)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkSellCandidateRequiresPosition(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")
	assert.ErrorIs(t, m.MarkSellCandidate("005930", "x"), ErrInvalidTransition)
}

func TestOrderTimeoutReverts(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")
	require.NoError(t, m.BeginBuy("005930", "c1"))

	require.NoError(t, m.OnOrderTimeout("005930"))
	v, _ := m.Get("005930")
	assert.Equal(t, StateSelected, v.State)

	// Sell timeout reverts to SELL_CANDIDATE with position intact.
	require.NoError(t, m.BeginBuy("005930", "c2"))
	_, err := m.ApplyBuyFill("005930", "c2", 10, 70000)
	require.NoError(t, err)
	require.NoError(t, m.MarkSellCandidate("005930", "exit"))
	require.NoError(t, m.BeginSell("005930", "c3"))
	require.NoError(t, m.OnOrderTimeout("005930"))

	v, _ = m.Get("005930")
	assert.Equal(t, StateSellCandidate, v.State)
	require.NotNil(t, v.Position)
	assert.Equal(t, int64(10), v.Position.Quantity)

	assert.ErrorIs(t, m.OnOrderTimeout("005930"), ErrInvalidTransition)
}

func TestByStateIndexTracksTransitions(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")
	selectStock(t, m, "000660")

	assert.Len(t, m.ByState(StateSelected), 2)

	require.NoError(t, m.BeginBuy("005930", "c1"))
	assert.Len(t, m.ByState(StateSelected), 1)
	assert.Len(t, m.ByState(StateBuyPending), 1)
}

func TestConcurrentBeginBuySingleWinner(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.BeginBuy("005930", "client")
		}(i)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok, "exactly one concurrent buy submission may win")
}

func TestMarkFailedIsTerminalUntilReselect(t *testing.T) {
	m := newTestManager(t)
	selectStock(t, m, "005930")
	m.MarkFailed("005930", "bootstrap failed")

	v, _ := m.Get("005930")
	assert.Equal(t, StateFailed, v.State)
	assert.ErrorIs(t, m.BeginBuy("005930", "c1"), ErrInvalidTransition)

	// Re-selection re-arms the stock.
	require.NoError(t, m.Select("005930", "Test Corp", "retry"))
	v, _ = m.Get("005930")
	assert.Equal(t, StateSelected, v.State)
}

func TestRestoreRebuildsPosition(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Restore("005930", "Test Corp", 10, 70000, Metadata{StopLoss: 68000}))

	v, ok := m.Get("005930")
	require.True(t, ok)
	assert.Equal(t, StatePositioned, v.State)
	assert.Equal(t, 68000.0, v.Metadata.StopLoss)

	assert.Error(t, m.Restore("005930", "Test Corp", 10, 70000, Metadata{}))
}
