package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"robotrader/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:        srv.URL,
		AppKey:         "test-key",
		AppSecret:      "test-secret",
		AccountNo:      "12345678",
		AccountProduct: "01",
	})
	require.NoError(t, err)
	return c
}

func writeToken(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "test-token",
		"expires_in":   86400,
	})
}

func TestMinuteChartParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			writeToken(w)
		case pathMinuteChart:
			assert.Equal(t, trMinuteChart, r.Header.Get("tr_id"))
			assert.Equal(t, "Bearer test-token", r.Header.Get("authorization"))
			fmt.Fprint(w, `{
				"rt_cd": "0",
				"output2": [
					{"stck_bsop_date":"20260831","stck_cntg_hour":"091000","stck_oprc":"70000","stck_hgpr":"70200","stck_lwpr":"69900","stck_prpr":"70100","cntg_vol":"1200"},
					{"stck_bsop_date":"20260831","stck_cntg_hour":"090900","stck_oprc":"69900","stck_hgpr":"70000","stck_lwpr":"69800","stck_prpr":"70000","cntg_vol":"900"}
				]
			}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	c.nowFn = func() time.Time {
		return time.Date(2026, 8, 31, 9, 10, 30, 0, c.loc)
	}

	bars, err := c.RecentBars(context.Background(), "005930", 10)
	require.NoError(t, err)
	// The 09:10 bar is in progress at 09:10:30 and must be dropped.
	require.Len(t, bars, 1)
	assert.Equal(t, 9, bars[0].Timestamp.Hour())
	assert.Equal(t, 9, bars[0].Timestamp.Minute())
	assert.Equal(t, 70000.0, bars[0].Close)
	assert.Equal(t, int64(900), bars[0].Volume)
}

func TestRecentBarsEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			writeToken(w)
			return
		}
		fmt.Fprint(w, `{"rt_cd": "0", "output2": []}`)
	})

	_, err := c.RecentBars(context.Background(), "005930", 10)
	assert.ErrorIs(t, err, market.ErrNoBars)
}

func TestAPIErrorPropagatesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			writeToken(w)
			return
		}
		fmt.Fprint(w, `{"rt_cd": "1", "msg1": "rate limit exceeded"}`)
	})

	_, err := c.CurrentPrice(context.Background(), "005930")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestCurrentPriceParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			writeToken(w)
			return
		}
		assert.Equal(t, trCurrentPrice, r.Header.Get("tr_id"))
		fmt.Fprint(w, `{
			"rt_cd": "0",
			"output": {"stck_prpr":"70100","stck_oprc":"69800","stck_hgpr":"70300","stck_lwpr":"69700","acml_vol":"1234567","prdy_ctrt":"1.52"}
		}`)
	})

	snap, err := c.CurrentPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, 70100.0, snap.Price)
	assert.Equal(t, int64(1234567), snap.Volume)
	assert.InDelta(t, 1.52, snap.ChangeRate, 1e-9)
}

func TestPlaceBuyRoundsToTickAndReturnsOrderNo(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			writeToken(w)
			return
		}
		assert.Equal(t, pathOrderCash, r.URL.Path)
		assert.Equal(t, trOrderBuy, r.Header.Get("tr_id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"rt_cd": "0", "output": {"ODNO": "0001234567"}}`)
	})

	// 70123 is off-tick at the 100-won level and must submit as 70100.
	id, err := c.PlaceBuy(context.Background(), "005930", 10, 70123)
	require.NoError(t, err)
	assert.Equal(t, "0001234567", id)
	assert.Equal(t, "70100", gotBody["ORD_UNPR"])
	assert.Equal(t, "10", gotBody["ORD_QTY"])
	assert.Equal(t, ordDivisionLimit, gotBody["ORD_DVSN"])
}

func TestPlaceSellMarketOrder(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			writeToken(w)
			return
		}
		assert.Equal(t, trOrderSell, r.Header.Get("tr_id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"rt_cd": "0", "output": {"ODNO": "0007654321"}}`)
	})

	id, err := c.PlaceSell(context.Background(), "005930", 10, 70000, true)
	require.NoError(t, err)
	assert.Equal(t, "0007654321", id)
	assert.Equal(t, ordDivisionMarket, gotBody["ORD_DVSN"])
	assert.Equal(t, "0", gotBody["ORD_UNPR"])
}

func TestCompletedOrdersParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			writeToken(w)
			return
		}
		assert.Equal(t, trDailyFills, r.Header.Get("tr_id"))
		fmt.Fprint(w, `{
			"rt_cd": "0",
			"output1": [
				{"odno":"0001","pdno":"005930","sll_buy_dvsn_cd":"02","tot_ccld_qty":"10","tot_ccld_amt":"700000","rmn_qty":"0"},
				{"odno":"0002","pdno":"000660","sll_buy_dvsn_cd":"01","tot_ccld_qty":"5","tot_ccld_amt":"600000","rmn_qty":"0"},
				{"odno":"0003","pdno":"035720","sll_buy_dvsn_cd":"02","tot_ccld_qty":"3","tot_ccld_amt":"90000","rmn_qty":"2"}
			]
		}`)
	})

	fills, err := c.CompletedOrders(context.Background())
	require.NoError(t, err)
	// The partially filled order (rmn_qty > 0) is excluded.
	require.Len(t, fills, 2)

	assert.Equal(t, "0001", fills[0].BrokerID)
	assert.Equal(t, "005930", fills[0].Code)
	assert.Equal(t, int64(10), fills[0].Quantity)
	assert.Equal(t, 70000.0, fills[0].Price)

	assert.Equal(t, "000660", fills[1].Code)
	assert.Equal(t, 120000.0, fills[1].Price)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			writeToken(w)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.CurrentPrice(ctx, "005930")
		require.Error(t, err)
	}

	// Sixth call short-circuits without touching the wire.
	_, err := c.CurrentPrice(ctx, "005930")
	assert.Error(t, err)
}
