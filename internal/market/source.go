package market

import (
	"context"
	"errors"
	"time"
)

// ErrNoBars marks an empty or missing upstream response for a window that
// should contain data. Callers treat it as transient and retry with a
// shifted target time or on the next cycle.
var ErrNoBars = errors.New("market: no bars returned")

// Source is the brokerage market-data surface the engine consumes.
// Implementations live under internal/gateway; everything above this
// interface is exchange-agnostic.
type Source interface {
	// RecentBars fetches the most recent completed minute bars inside the
	// given window, newest last. The in-progress minute is never included.
	RecentBars(ctx context.Context, code string, windowMinutes int) ([]Bar, error)

	// FullSessionBars fetches the session's minute bars for day between from
	// and until (inclusive), oldest first.
	FullSessionBars(ctx context.Context, code string, day, from, until time.Time) ([]Bar, error)

	// CurrentPrice fetches the live quote for a stock.
	CurrentPrice(ctx context.Context, code string) (PriceSnapshot, error)
}

// Session describes one trading day's regular hours.
type Session struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// DefaultSession is the KRX regular session, 09:00-15:30.
var DefaultSession = Session{OpenHour: 9, CloseHour: 15, CloseMinute: 30}

// OpenAt returns the session open instant on day's calendar date.
func (s Session) OpenAt(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, s.OpenHour, s.OpenMinute, 0, 0, day.Location())
}

// CloseAt returns the session close instant on day's calendar date.
func (s Session) CloseAt(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, s.CloseHour, s.CloseMinute, 0, 0, day.Location())
}

// IsOpen reports whether t falls inside the regular session.
func (s Session) IsOpen(t time.Time) bool {
	return !t.Before(s.OpenAt(t)) && !t.After(s.CloseAt(t))
}
