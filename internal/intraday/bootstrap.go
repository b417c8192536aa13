package intraday

import (
	"context"
	"errors"
	"fmt"
	"time"

	"robotrader/internal/logger"
	"robotrader/internal/market"
)

// ErrBootstrap marks a full-session load that failed after every retry and
// the reduced-window fallback. The stock is unusable for decisions.
var ErrBootstrap = errors.New("intraday: bootstrap failed")

// Bootstrapper loads a stock's full session history on selection. Some feeds
// return nothing when the requested end minute has no print yet, so failed
// attempts retry with the end shifted forward one minute at a time, bounded
// by the session close. When every shifted attempt fails it falls back to a
// reduced recent window rather than giving up with nothing.
type Bootstrapper struct {
	src     market.Source
	session market.Session

	maxRetries     int
	shiftStep      time.Duration
	fallbackWindow int

	nowFn func() time.Time
}

// NewBootstrapper wires a bootstrapper against a data source.
func NewBootstrapper(src market.Source, session market.Session) *Bootstrapper {
	return &Bootstrapper{
		src:            src,
		session:        session,
		maxRetries:     3,
		shiftStep:      time.Minute,
		fallbackWindow: 30,
		nowFn:          time.Now,
	}
}

// Bootstrap loads the session-so-far series into the record. On success the
// record is marked bootstrapped; on total failure it returns ErrBootstrap and
// the record keeps whatever it had.
func (b *Bootstrapper) Bootstrap(ctx context.Context, rec *Record) error {
	if !rec.refreshing.CompareAndSwap(false, true) {
		logger.Debugf("intraday: bootstrap for %s skipped, refresh in progress", rec.Code)
		return nil
	}
	defer rec.refreshing.Store(false)
	return b.load(ctx, rec)
}

// load runs the shifted-retry fetch sequence. The caller owns the record's
// refreshing flag.
func (b *Bootstrapper) load(ctx context.Context, rec *Record) error {
	now := b.nowFn()
	day := now
	from := b.session.OpenAt(day)
	close := b.session.CloseAt(day)
	until := now.Truncate(time.Minute)
	if until.After(close) {
		until = close
	}
	if until.Before(from) {
		until = from
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		bars, err := b.src.FullSessionBars(ctx, rec.Code, day, from, until)
		if err == nil && len(bars) > 0 {
			n := rec.SetBars(bars, day)
			logger.Infof("intraday: %s bootstrapped with %d bars (%s..%s)",
				rec.Code, n, from.Format("15:04"), until.Format("15:04"))
			return nil
		}
		if err == nil {
			err = market.ErrNoBars
		}
		lastErr = err
		logger.Warnf("intraday: bootstrap %s attempt %d failed: %v", rec.Code, attempt+1, err)

		// Shift the end minute forward; past the close there is nothing
		// further to try.
		next := until.Add(b.shiftStep)
		if next.After(close) {
			break
		}
		until = next
	}

	bars, err := b.src.RecentBars(ctx, rec.Code, b.fallbackWindow)
	if err == nil && len(bars) > 0 {
		n := rec.SetBars(bars, day)
		logger.Warnf("intraday: %s bootstrapped from reduced window with %d bars", rec.Code, n)
		return nil
	}
	if err != nil {
		lastErr = err
	}
	return fmt.Errorf("%w: %s: %v", ErrBootstrap, rec.Code, lastErr)
}
