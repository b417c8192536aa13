package kis

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"robotrader/internal/market"

	"github.com/tidwall/gjson"
)

const (
	pathMinuteChart  = "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice"
	pathCurrentPrice = "/uapi/domestic-stock/v1/quotations/inquire-price"

	trMinuteChart  = "FHKST03010200"
	trCurrentPrice = "FHKST01010100"

	// The minute-chart endpoint returns at most this many bars per call.
	chartPageSize = 30
	maxChartPages = 30
)

// RecentBars fetches the latest completed minute bars inside the window,
// oldest first. The in-progress minute is dropped.
func (c *Client) RecentBars(ctx context.Context, code string, windowMinutes int) ([]market.Bar, error) {
	now := c.nowFn().In(c.loc)
	bars, err := c.minuteChart(ctx, code, now)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-time.Duration(windowMinutes) * time.Minute).Truncate(time.Minute)
	out := bars[:0:0]
	for _, b := range bars {
		if b.Timestamp.Before(cutoff) {
			continue
		}
		if market.SameMinute(b.Timestamp, now) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, market.ErrNoBars
	}
	market.SortBars(out)
	return out, nil
}

// FullSessionBars pages the minute chart backwards from until to from. Each
// call returns a fixed-size page ending at the cursor, so the cursor walks
// back one minute past the earliest bar of each page.
func (c *Client) FullSessionBars(ctx context.Context, code string, day, from, until time.Time) ([]market.Bar, error) {
	seen := make(map[int64]market.Bar)
	cursor := until

	for page := 0; page < maxChartPages; page++ {
		bars, err := c.minuteChart(ctx, code, cursor)
		if err != nil {
			if len(seen) > 0 {
				break
			}
			return nil, err
		}

		added := 0
		earliest := cursor
		for _, b := range bars {
			if b.Timestamp.Before(from) || b.Timestamp.After(until) {
				continue
			}
			key := b.Timestamp.Truncate(time.Minute).Unix()
			if _, ok := seen[key]; !ok {
				seen[key] = b
				added++
			}
			if b.Timestamp.Before(earliest) {
				earliest = b.Timestamp
			}
		}
		if added == 0 || !earliest.After(from) {
			break
		}
		cursor = earliest.Add(-time.Minute)
	}

	if len(seen) == 0 {
		return nil, market.ErrNoBars
	}
	out := make([]market.Bar, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	market.SortBars(out)
	return market.FilterDay(out, day), nil
}

// CurrentPrice fetches the live quote.
func (c *Client) CurrentPrice(ctx context.Context, code string) (market.PriceSnapshot, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", code)

	res, err := c.doRequest(ctx, "GET", pathCurrentPrice, trCurrentPrice, q, nil)
	if err != nil {
		return market.PriceSnapshot{}, err
	}
	out := res.Get("output")
	price := out.Get("stck_prpr").Float()
	if price <= 0 {
		return market.PriceSnapshot{}, fmt.Errorf("kis: empty quote for %s", code)
	}
	return market.PriceSnapshot{
		Code:       code,
		Price:      price,
		Open:       out.Get("stck_oprc").Float(),
		High:       out.Get("stck_hgpr").Float(),
		Low:        out.Get("stck_lwpr").Float(),
		Volume:     out.Get("acml_vol").Int(),
		ChangeRate: out.Get("prdy_ctrt").Float(),
		At:         c.nowFn().In(c.loc),
	}, nil
}

// minuteChart fetches one page of minute bars ending at endAt, oldest first.
func (c *Client) minuteChart(ctx context.Context, code string, endAt time.Time) ([]market.Bar, error) {
	q := url.Values{}
	q.Set("FID_ETC_CLS_CODE", "")
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", code)
	q.Set("FID_INPUT_HOUR_1", endAt.In(c.loc).Format("150405"))
	q.Set("FID_PW_DATA_INCU_YN", "Y")

	res, err := c.doRequest(ctx, "GET", pathMinuteChart, trMinuteChart, q, nil)
	if err != nil {
		return nil, err
	}

	rows := res.Get("output2").Array()
	if len(rows) == 0 {
		return nil, market.ErrNoBars
	}
	bars := make([]market.Bar, 0, len(rows))
	for _, row := range rows {
		b, ok := c.parseBar(row)
		if !ok {
			continue
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, market.ErrNoBars
	}
	market.SortBars(bars)
	return bars, nil
}

func (c *Client) parseBar(row gjson.Result) (market.Bar, bool) {
	date := row.Get("stck_bsop_date").String()
	hour := row.Get("stck_cntg_hour").String()
	if len(date) != 8 || len(hour) != 6 {
		return market.Bar{}, false
	}
	ts, err := time.ParseInLocation("20060102150405", date+hour, c.loc)
	if err != nil {
		return market.Bar{}, false
	}
	return market.Bar{
		Timestamp: ts.Truncate(time.Minute),
		Open:      row.Get("stck_oprc").Float(),
		High:      row.Get("stck_hgpr").Float(),
		Low:       row.Get("stck_lwpr").Float(),
		Close:     row.Get("stck_prpr").Float(),
		Volume:    row.Get("cntg_vol").Int(),
	}, true
}
