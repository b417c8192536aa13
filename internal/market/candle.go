package market

import (
	"sort"
	"time"
)

// Bar is one confirmed one-minute OHLCV record. Timestamp is the bucket open
// time in exchange-local time, truncated to the minute.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// PriceSnapshot is the latest quote for a stock, cached between refresh
// cycles for sell-side checks that must not wait on a bar close.
type PriceSnapshot struct {
	Code       string    `json:"code"`
	Price      float64   `json:"price"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Volume     int64     `json:"volume"`
	ChangeRate float64   `json:"change_rate"`
	At         time.Time `json:"at"`
}

// SameMinute reports whether two timestamps fall in the same minute bucket.
func SameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

// SortBars orders bars ascending by timestamp in place.
func SortBars(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

// MergeBars combines base and incoming into a new time-ordered series,
// deduplicated by minute timestamp. When both sides carry the same minute the
// incoming bar wins, so a re-fetched bar replaces a stale one.
func MergeBars(base, incoming []Bar) []Bar {
	if len(base) == 0 && len(incoming) == 0 {
		return nil
	}
	byMinute := make(map[int64]Bar, len(base)+len(incoming))
	for _, b := range base {
		byMinute[b.Timestamp.Truncate(time.Minute).Unix()] = b
	}
	for _, b := range incoming {
		byMinute[b.Timestamp.Truncate(time.Minute).Unix()] = b
	}
	out := make([]Bar, 0, len(byMinute))
	for _, b := range byMinute {
		out = append(out, b)
	}
	SortBars(out)
	return out
}

// FilterDay keeps only bars whose timestamp falls on the given calendar day
// (in day's location). Upstream feeds occasionally leak the previous session
// across the date boundary; every merge path filters through here.
func FilterDay(bars []Bar, day time.Time) []Bar {
	if len(bars) == 0 {
		return bars
	}
	y, m, d := day.Date()
	out := bars[:0:0]
	for _, b := range bars {
		by, bm, bd := b.Timestamp.In(day.Location()).Date()
		if by == y && bm == m && bd == d {
			out = append(out, b)
		}
	}
	return out
}

// FirstGap scans a sorted series for the first missing one-minute step and
// returns the bounding timestamps. ok is false when the series is continuous.
func FirstGap(bars []Bar) (prev, next time.Time, ok bool) {
	for i := 1; i < len(bars); i++ {
		p := bars[i-1].Timestamp.Truncate(time.Minute)
		c := bars[i].Timestamp.Truncate(time.Minute)
		if c.Sub(p) > time.Minute {
			return p, c, true
		}
	}
	return time.Time{}, time.Time{}, false
}

// LastBar returns the newest bar of a sorted series.
func LastBar(bars []Bar) (Bar, bool) {
	if len(bars) == 0 {
		return Bar{}, false
	}
	return bars[len(bars)-1], true
}

// TailBars returns the last n bars (the whole series when shorter).
func TailBars(bars []Bar, n int) []Bar {
	if n <= 0 || len(bars) == 0 {
		return nil
	}
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
