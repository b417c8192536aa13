package intraday

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"robotrader/internal/logger"
	"robotrader/internal/market"
)

var (
	// ErrRegistryFull is returned when adding a stock past the tracking cap.
	ErrRegistryFull = errors.New("intraday: registry full")

	// ErrUnknownCode is returned for operations on an untracked stock.
	ErrUnknownCode = errors.New("intraday: code not tracked")

	// ErrInsufficientData is returned when a combined series is shorter than
	// the minimum the decision layer needs.
	ErrInsufficientData = errors.New("intraday: insufficient bars")
)

// Record holds one stock's intraday series and live quote. Bar commits are
// serialized by the record's own lock; the refreshing flag keeps concurrent
// refresh or bootstrap passes from stacking on the same stock. The lock is
// never held across a network call.
type Record struct {
	Code string

	mu       sync.RWMutex
	bars     []market.Bar
	snapshot market.PriceSnapshot

	bootstrappedAt time.Time
	refreshing     atomic.Bool
}

// Bars returns a copy of the committed series, oldest first.
func (r *Record) Bars() []market.Bar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]market.Bar, len(r.bars))
	copy(out, r.bars)
	return out
}

// SetBars replaces the whole series (bootstrap commit). Input is filtered to
// day and sorted before the swap.
func (r *Record) SetBars(bars []market.Bar, day time.Time) int {
	bars = market.FilterDay(bars, day)
	market.SortBars(bars)
	r.mu.Lock()
	r.bars = bars
	r.bootstrappedAt = time.Now()
	r.mu.Unlock()
	return len(bars)
}

// Merge folds incoming bars into the series. Both the incoming batch and the
// merged result pass the day filter, so a stale cross-day bar can neither
// enter nor survive a commit. Returns the committed series length.
func (r *Record) Merge(incoming []market.Bar, day time.Time) int {
	incoming = market.FilterDay(incoming, day)
	r.mu.Lock()
	merged := market.MergeBars(r.bars, incoming)
	r.bars = market.FilterDay(merged, day)
	n := len(r.bars)
	r.mu.Unlock()
	return n
}

// ReplaceBar swaps the bar at ts for the given one, in place. Returns false
// when no bar occupies that minute.
func (r *Record) ReplaceBar(ts time.Time, b market.Bar) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.bars {
		if market.SameMinute(r.bars[i].Timestamp, ts) {
			r.bars[i] = b
			return true
		}
	}
	return false
}

// SetSnapshot stores the latest live quote.
func (r *Record) SetSnapshot(s market.PriceSnapshot) {
	r.mu.Lock()
	r.snapshot = s
	r.mu.Unlock()
}

// Snapshot returns the latest live quote.
func (r *Record) Snapshot() market.PriceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Bootstrapped reports whether a full-session load has committed.
func (r *Record) Bootstrapped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.bootstrappedAt.IsZero()
}

// Combined returns the series with the live quote folded in as a synthetic
// trailing bar when the quote is newer than the last committed minute. Errors
// with ErrInsufficientData below minBars.
func (r *Record) Combined(minBars int) ([]market.Bar, error) {
	r.mu.RLock()
	bars := make([]market.Bar, len(r.bars))
	copy(bars, r.bars)
	snap := r.snapshot
	r.mu.RUnlock()

	if snap.Price > 0 {
		last, ok := market.LastBar(bars)
		if !ok || snap.At.Truncate(time.Minute).After(last.Timestamp.Truncate(time.Minute)) {
			bars = append(bars, market.Bar{
				Timestamp: snap.At.Truncate(time.Minute),
				Open:      snap.Price,
				High:      snap.Price,
				Low:       snap.Price,
				Close:     snap.Price,
				Volume:    0,
			})
		}
	}
	if len(bars) < minBars {
		return nil, ErrInsufficientData
	}
	return bars, nil
}

// Registry owns the per-stock records, capped at maxStocks.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]*Record
	maxStocks int
}

// NewRegistry creates a registry tracking at most maxStocks stocks.
func NewRegistry(maxStocks int) *Registry {
	return &Registry{
		records:   make(map[string]*Record),
		maxStocks: maxStocks,
	}
}

// Add registers a stock and returns its record. Adding an existing code
// returns the live record unchanged.
func (g *Registry) Add(code string) (*Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[code]; ok {
		return rec, nil
	}
	if g.maxStocks > 0 && len(g.records) >= g.maxStocks {
		return nil, ErrRegistryFull
	}
	rec := &Record{Code: code}
	g.records[code] = rec
	logger.Debugf("intraday: tracking %s (%d/%d)", code, len(g.records), g.maxStocks)
	return rec, nil
}

// Remove drops a stock's record and its data.
func (g *Registry) Remove(code string) {
	g.mu.Lock()
	delete(g.records, code)
	g.mu.Unlock()
}

// Get returns the record for a code.
func (g *Registry) Get(code string) (*Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[code]
	return rec, ok
}

// Codes returns all tracked codes.
func (g *Registry) Codes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.records))
	for code := range g.records {
		out = append(out, code)
	}
	return out
}

// Len returns the number of tracked stocks.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}
