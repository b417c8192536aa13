package kis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"robotrader/internal/logger"
	"robotrader/internal/orders"
	"robotrader/internal/pkg/tick"
)

const (
	pathOrderCash   = "/uapi/domestic-stock/v1/trading/order-cash"
	pathOrderCancel = "/uapi/domestic-stock/v1/trading/order-rvsecncl"
	pathDailyFills  = "/uapi/domestic-stock/v1/trading/inquire-daily-ccld"

	trOrderBuy    = "TTTC0802U"
	trOrderSell   = "TTTC0801U"
	trOrderCancel = "TTTC0803U"
	trDailyFills  = "TTTC8001R"

	ordDivisionLimit  = "00"
	ordDivisionMarket = "01"
)

// PlaceBuy submits a limit buy. The price is snapped to a valid tick before
// submission.
func (c *Client) PlaceBuy(ctx context.Context, code string, qty int64, price float64) (string, error) {
	return c.placeOrder(ctx, trOrderBuy, code, qty, tick.Round(price), false)
}

// PlaceSell submits a sell: limit at the tick-rounded price, or a market
// order when market is true.
func (c *Client) PlaceSell(ctx context.Context, code string, qty int64, price float64, market bool) (string, error) {
	if market {
		return c.placeOrder(ctx, trOrderSell, code, qty, 0, true)
	}
	return c.placeOrder(ctx, trOrderSell, code, qty, tick.Round(price), false)
}

func (c *Client) placeOrder(ctx context.Context, trID, code string, qty int64, price float64, market bool) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("kis: order quantity must be positive")
	}
	division := ordDivisionLimit
	unitPrice := strconv.FormatInt(int64(price), 10)
	if market {
		division = ordDivisionMarket
		unitPrice = "0"
	}

	payload := map[string]string{
		"CANO":         c.accountNo,
		"ACNT_PRDT_CD": c.accountProduct,
		"PDNO":         code,
		"ORD_DVSN":     division,
		"ORD_QTY":      strconv.FormatInt(qty, 10),
		"ORD_UNPR":     unitPrice,
	}
	res, err := c.doRequest(ctx, "POST", pathOrderCash, trID, nil, payload)
	if err != nil {
		return "", err
	}
	brokerID := res.Get("output.ODNO").String()
	if brokerID == "" {
		return "", fmt.Errorf("kis: order accepted but no order number returned")
	}
	logger.Infof("kis: order %s placed for %s (%d @ %s)", brokerID, code, qty, unitPrice)
	return brokerID, nil
}

// Cancel cancels the unfilled remainder of an order.
func (c *Client) Cancel(ctx context.Context, brokerID string) error {
	payload := map[string]string{
		"CANO":               c.accountNo,
		"ACNT_PRDT_CD":       c.accountProduct,
		"KRX_FWDG_ORD_ORGNO": "",
		"ORGN_ODNO":          brokerID,
		"ORD_DVSN":           ordDivisionLimit,
		"RVSE_CNCL_DVSN_CD":  "02",
		"ORD_QTY":            "0",
		"ORD_UNPR":           "0",
		"QTY_ALL_ORD_YN":     "Y",
	}
	_, err := c.doRequest(ctx, "POST", pathOrderCancel, trOrderCancel, nil, payload)
	return err
}

// CompletedOrders returns today's fully executed orders as fills.
func (c *Client) CompletedOrders(ctx context.Context) ([]orders.Fill, error) {
	day := c.nowFn().In(c.loc).Format("20060102")
	q := url.Values{}
	q.Set("CANO", c.accountNo)
	q.Set("ACNT_PRDT_CD", c.accountProduct)
	q.Set("INQR_STRT_DT", day)
	q.Set("INQR_END_DT", day)
	q.Set("SLL_BUY_DVSN_CD", "00")
	q.Set("INQR_DVSN", "00")
	q.Set("PDNO", "")
	q.Set("CCLD_DVSN", "01")
	q.Set("ORD_GNO_BRNO", "")
	q.Set("ODNO", "")
	q.Set("INQR_DVSN_3", "00")
	q.Set("INQR_DVSN_1", "")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	res, err := c.doRequest(ctx, "GET", pathDailyFills, trDailyFills, q, nil)
	if err != nil {
		return nil, err
	}

	var fills []orders.Fill
	for _, row := range res.Get("output1").Array() {
		qty := row.Get("tot_ccld_qty").Int()
		if qty <= 0 || row.Get("rmn_qty").Int() > 0 {
			continue
		}
		side := orders.SideSell
		if row.Get("sll_buy_dvsn_cd").String() == "02" {
			side = orders.SideBuy
		}
		price := 0.0
		if amt := row.Get("tot_ccld_amt").Float(); amt > 0 {
			price = amt / float64(qty)
		}
		fills = append(fills, orders.Fill{
			BrokerID: row.Get("odno").String(),
			Code:     row.Get("pdno").String(),
			Side:     side,
			Quantity: qty,
			Price:    price,
			At:       c.nowFn(),
		})
	}
	return fills, nil
}
