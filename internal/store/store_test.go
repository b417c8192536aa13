package store

import (
	"fmt"
	"testing"

	"robotrader/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Named in-memory database so each test gets its own isolated db while
	// the connection pool still shares one instance.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s, err := NewFromDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordBuyAndSellRoundTrip(t *testing.T) {
	s := newTestStore(t)

	meta := trading.Metadata{EntryPrice: 70000, StopLoss: 68000, Reason: "momentum"}
	require.NoError(t, s.RecordBuy("005930", "Test Corp", 10, 70000, meta))

	open, err := s.OpenTrades()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "005930", open[0].Code)
	assert.Equal(t, int64(10), open[0].Quantity)
	assert.Equal(t, 68000.0, DecodeMetadata(open[0]).StopLoss)

	require.NoError(t, s.RecordSell("005930", 10, 72000, 20000))

	open, err = s.OpenTrades()
	require.NoError(t, err)
	assert.Empty(t, open)

	trades, err := s.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, TradeStatusClosed, trades[0].Status)
	assert.Equal(t, 72000.0, trades[0].SellPrice)
	assert.Equal(t, 20000.0, trades[0].PnL)
	assert.InDelta(t, 2.857, trades[0].ProfitRate, 0.001)
}

func TestRecordSellWithoutOpenTrade(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordSell("000660", 5, 120000, 0))

	trades, err := s.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, TradeStatusClosed, trades[0].Status)
	assert.Equal(t, "000660", trades[0].Code)
}

func TestSellMatchesNewestOpenBuy(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordBuy("005930", "Test Corp", 10, 70000, trading.Metadata{}))
	require.NoError(t, s.RecordBuy("000660", "Other Corp", 5, 100000, trading.Metadata{}))

	require.NoError(t, s.RecordSell("005930", 10, 71000, 10000))

	open, err := s.OpenTrades()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "000660", open[0].Code, "unrelated open trade stays open")
}
