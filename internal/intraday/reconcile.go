package intraday

import (
	"context"
	"time"

	"robotrader/internal/logger"
	"robotrader/internal/market"
)

// Reconciler repairs suspect bars. A bar with zero volume whose close moved
// from the previous close is physically impossible and means the feed served
// a placeholder; such bars are re-queried inside a small window around their
// minute and replaced in place when the fresh copy differs.
type Reconciler struct {
	src     market.Source
	session market.Session

	// lookback is how many trailing bars each pass inspects.
	lookback int
	// requeryPad is the half-width of the re-query window around a suspect
	// bar's minute.
	requeryPad time.Duration

	nowFn func() time.Time
}

// NewReconciler wires a reconciler against a data source.
func NewReconciler(src market.Source, session market.Session, lookback int) *Reconciler {
	return &Reconciler{
		src:        src,
		session:    session,
		lookback:   lookback,
		requeryPad: 5 * time.Minute,
		nowFn:      time.Now,
	}
}

// suspects returns the timestamps of suspect bars inside the lookback tail.
// One extra leading bar is included so the oldest inspected bar still has a
// previous close to compare against.
func (rc *Reconciler) suspects(bars []market.Bar) []time.Time {
	tail := market.TailBars(bars, rc.lookback+1)
	var out []time.Time
	for i := 1; i < len(tail); i++ {
		if tail[i].Volume == 0 && tail[i].Close != tail[i-1].Close {
			out = append(out, tail[i].Timestamp)
		}
	}
	return out
}

// Reconcile scans the record's recent bars and repairs any suspects. Returns
// the timestamps of bars actually replaced. A re-query returning the same bar
// leaves the series untouched.
func (rc *Reconciler) Reconcile(ctx context.Context, rec *Record) ([]time.Time, error) {
	suspects := rc.suspects(rec.Bars())
	if len(suspects) == 0 {
		return nil, nil
	}
	logger.Debugf("intraday: %s has %d suspect bars", rec.Code, len(suspects))

	now := rc.nowFn()
	day := now
	open := rc.session.OpenAt(day)
	close := rc.session.CloseAt(day)

	var patched []time.Time
	for _, ts := range suspects {
		from := ts.Add(-rc.requeryPad)
		if from.Before(open) {
			from = open
		}
		until := ts.Add(rc.requeryPad)
		if until.After(close) {
			until = close
		}
		if until.After(now) {
			until = now.Truncate(time.Minute)
		}

		fresh, err := rc.src.FullSessionBars(ctx, rec.Code, day, from, until)
		if err != nil {
			logger.Warnf("intraday: re-query for %s @ %s failed: %v", rec.Code, ts.Format("15:04"), err)
			continue
		}
		for _, b := range fresh {
			if !market.SameMinute(b.Timestamp, ts) {
				continue
			}
			old, _ := barAt(rec, ts)
			if b == old {
				break
			}
			if rec.ReplaceBar(ts, b) {
				patched = append(patched, ts)
				logger.Infof("intraday: %s bar %s repaired (close %.0f -> %.0f, vol %d -> %d)",
					rec.Code, ts.Format("15:04"), old.Close, b.Close, old.Volume, b.Volume)
			}
			break
		}
	}
	return patched, nil
}

func barAt(rec *Record, ts time.Time) (market.Bar, bool) {
	for _, b := range rec.Bars() {
		if market.SameMinute(b.Timestamp, ts) {
			return b, true
		}
	}
	return market.Bar{}, false
}
