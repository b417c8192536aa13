package intraday

import (
	"context"
	"errors"
	"time"

	"robotrader/internal/logger"
	"robotrader/internal/market"

	"golang.org/x/sync/errgroup"
)

// errRefreshInFlight marks a stock whose previous refresh has not finished
// yet. The cycle report counts these as skipped, not refreshed.
var errRefreshInFlight = errors.New("refresh already in flight")

// Refresher runs the periodic bar refresh over every tracked stock, paced by
// the batch planner so the brokerage call ceiling holds no matter how many
// stocks are tracked.
type Refresher struct {
	src        market.Source
	registry   *Registry
	session    market.Session
	reconciler *Reconciler
	bootstrap  *Bootstrapper

	// recentWindow is how many trailing minutes each refresh re-fetches.
	recentWindow int

	callsPerStock    int
	ceilingPerSecond int
	targetSeconds    float64

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration)
}

// Report summarizes one refresh cycle.
type Report struct {
	Plan      market.BatchPlan
	Total     int
	Refreshed int
	Skipped   int
	Failed    int
	Repaired  int
	Gaps      []string
	Elapsed   time.Duration
}

// NewRefresher wires the refresh loop. recentWindowMinutes is how many
// trailing minutes each refresh re-fetches, callsPerStock how many API calls
// one stock's refresh costs, ceilingPerSecond the brokerage hard limit, and
// targetSeconds the desired wall time for one full pass.
func NewRefresher(src market.Source, registry *Registry, session market.Session,
	reconciler *Reconciler, bootstrap *Bootstrapper,
	recentWindowMinutes, callsPerStock, ceilingPerSecond int, targetSeconds float64) *Refresher {
	if recentWindowMinutes <= 0 {
		recentWindowMinutes = 10
	}
	return &Refresher{
		src:              src,
		registry:         registry,
		session:          session,
		reconciler:       reconciler,
		bootstrap:        bootstrap,
		recentWindow:     recentWindowMinutes,
		callsPerStock:    callsPerStock,
		ceilingPerSecond: ceilingPerSecond,
		targetSeconds:    targetSeconds,
		nowFn:            time.Now,
		sleepFn:          sleepCtx,
	}
}

// RefreshAll runs one paced pass over every tracked stock: recent bars and a
// live quote per stock, batched per the plan, with suspect-bar repair folded
// in. Stocks whose series shows a minute gap are re-bootstrapped in the
// background rather than blocking the cycle.
func (rf *Refresher) RefreshAll(ctx context.Context) Report {
	start := rf.nowFn()
	if !rf.session.IsOpen(start) {
		logger.Debugf("intraday: market closed at %s, refresh pass skipped", start.Format("15:04"))
		return Report{}
	}
	codes := rf.registry.Codes()
	plan := market.PlanBatches(len(codes), rf.callsPerStock, rf.ceilingPerSecond, rf.targetSeconds)

	report := Report{Plan: plan, Total: len(codes)}
	if len(codes) == 0 {
		return report
	}

	logger.Debugf("intraday: refreshing %d stocks, batch=%d delay=%s (%d batches, ~%s)",
		len(codes), plan.BatchSize, plan.BatchDelay,
		plan.NumBatches(len(codes)), plan.EstimatedTime(len(codes)))

	type result struct {
		code     string
		repaired int
		gap      bool
		err      error
	}
	results := make(chan result, len(codes))

	for i := 0; i < len(codes); i += plan.BatchSize {
		end := i + plan.BatchSize
		if end > len(codes) {
			end = len(codes)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, code := range codes[i:end] {
			code := code
			g.Go(func() error {
				repaired, gap, err := rf.refreshOne(gctx, code)
				results <- result{code: code, repaired: repaired, gap: gap, err: err}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(codes) {
			rf.sleepFn(ctx, plan.BatchDelay)
			if ctx.Err() != nil {
				break
			}
		}
	}
	close(results)

	for res := range results {
		if res.err != nil {
			if errors.Is(res.err, errRefreshInFlight) {
				report.Skipped++
				logger.Debugf("intraday: %s refresh still in flight, skipped", res.code)
				continue
			}
			report.Failed++
			logger.Warnf("intraday: refresh %s failed: %v", res.code, res.err)
			continue
		}
		report.Refreshed++
		report.Repaired += res.repaired
		if res.gap {
			report.Gaps = append(report.Gaps, res.code)
		}
	}

	for _, code := range report.Gaps {
		if rec, ok := rf.registry.Get(code); ok {
			go rf.rebootstrap(ctx, rec)
		}
	}

	report.Elapsed = rf.nowFn().Sub(start)
	if rf.targetSeconds > 0 && report.Elapsed.Seconds() > rf.targetSeconds {
		logger.Warnf("intraday: refresh cycle took %s, target %.0fs (plan batch=%d delay=%s)",
			report.Elapsed, rf.targetSeconds, plan.BatchSize, plan.BatchDelay)
	}
	return report
}

// refreshOne fetches and commits one stock's recent bars plus live quote.
// Returns the repaired-bar count and whether the committed series has a gap.
func (rf *Refresher) refreshOne(ctx context.Context, code string) (repaired int, gap bool, err error) {
	rec, ok := rf.registry.Get(code)
	if !ok {
		return 0, false, ErrUnknownCode
	}
	if !rec.refreshing.CompareAndSwap(false, true) {
		return 0, false, errRefreshInFlight
	}
	defer rec.refreshing.Store(false)

	now := rf.nowFn()

	if !rec.Bootstrapped() {
		if err := rf.bootstrap.load(ctx, rec); err != nil {
			logger.Warnf("intraday: %s still not bootstrapped: %v", code, err)
		}
	}

	bars, err := rf.src.RecentBars(ctx, code, rf.recentWindow)
	if err != nil {
		return 0, false, err
	}

	// Completed bars only: the in-progress minute would be overwritten with
	// partial volume on every cycle.
	completed := bars[:0:0]
	for _, b := range bars {
		if !market.SameMinute(b.Timestamp, now) {
			completed = append(completed, b)
		}
	}
	rec.Merge(completed, now)

	if snap, qerr := rf.src.CurrentPrice(ctx, code); qerr == nil {
		rec.SetSnapshot(snap)
	} else {
		logger.Debugf("intraday: quote for %s failed: %v", code, qerr)
	}

	if rf.reconciler != nil {
		patched, rerr := rf.reconciler.Reconcile(ctx, rec)
		if rerr != nil {
			logger.Warnf("intraday: reconcile %s: %v", code, rerr)
		}
		repaired = len(patched)
	}

	if _, _, hasGap := market.FirstGap(rec.Bars()); hasGap {
		gap = true
	}
	return repaired, gap, nil
}

// rebootstrap reloads a gapped series off the refresh path.
func (rf *Refresher) rebootstrap(ctx context.Context, rec *Record) {
	prev, next, ok := market.FirstGap(rec.Bars())
	if !ok {
		return
	}
	logger.Warnf("intraday: %s gap %s..%s, re-bootstrapping",
		rec.Code, prev.Format("15:04"), next.Format("15:04"))
	if err := rf.bootstrap.Bootstrap(ctx, rec); err != nil {
		logger.Errorf("intraday: re-bootstrap %s failed: %v", rec.Code, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
