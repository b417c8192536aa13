package trading

import (
	"fmt"
	"sync"
	"time"

	"robotrader/internal/logger"
)

// Manager is the trading state machine for every tracked stock. All lifecycle
// transitions are mediated here under one lock and never span I/O; order
// submission happens outside, bracketed by Begin/Abort calls.
type Manager struct {
	mu sync.RWMutex

	stocks  map[string]*TradingStock
	byState map[StockState]map[string]*TradingStock

	buyCooldown time.Duration
	dailyLimit  int

	nowFn func() time.Time
}

// NewManager creates an empty state machine. buyCooldown is the mandatory
// wait after a buy fill before the same stock may be bought again; dailyLimit
// caps buys per stock per session (0 means unlimited).
func NewManager(buyCooldown time.Duration, dailyLimit int) *Manager {
	m := &Manager{
		stocks:      make(map[string]*TradingStock),
		byState:     make(map[StockState]map[string]*TradingStock),
		buyCooldown: buyCooldown,
		dailyLimit:  dailyLimit,
		nowFn:       time.Now,
	}
	for _, s := range AllStates {
		m.byState[s] = make(map[string]*TradingStock)
	}
	return m
}

// Select registers a stock for trading, or re-arms a COMPLETED/FAILED one for
// re-entry. Stocks already live in another state are left untouched.
func (m *Manager) Select(code, name, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if ts, ok := m.stocks[code]; ok {
		switch ts.state {
		case StateCompleted, StateFailed:
			ts.selectedAt = now
			ts.position = nil
			ts.currentOrderID = ""
			ts.metadata = Metadata{Reason: reason}
			m.transition(ts, StateSelected, "re-selected: "+reason)
			return nil
		default:
			return nil
		}
	}

	ts := &TradingStock{
		Code:       code,
		Name:       name,
		state:      StateSelected,
		selectedAt: now,
		metadata:   Metadata{Reason: reason},
	}
	m.stocks[code] = ts
	m.byState[StateSelected][code] = ts
	logger.Infof("trading: %s(%s) selected (%s)", code, name, reason)
	return nil
}

// Restore rebuilds a POSITIONED stock from persisted state after a restart.
func (m *Manager) Restore(code, name string, qty int64, avgPrice float64, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stocks[code]; ok {
		return fmt.Errorf("trading: %s already managed", code)
	}
	ts := &TradingStock{
		Code:       code,
		Name:       name,
		state:      StatePositioned,
		position:   &Position{Quantity: qty, AvgPrice: avgPrice},
		selectedAt: m.nowFn(),
		metadata:   meta,
	}
	m.stocks[code] = ts
	m.byState[StatePositioned][code] = ts
	logger.Infof("trading: %s restored with position %d @ %.0f", code, qty, avgPrice)
	return nil
}

// BeginBuy moves a stock into BUY_PENDING ahead of order submission. The
// caller must have reserved funds already; any error here means no state was
// changed and the reservation must be cancelled by the caller.
func (m *Manager) BeginBuy(code, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return ErrUnknownStock
	}
	if ts.buying {
		return ErrAlreadyBuying
	}
	if ts.cooldownActive(m.nowFn(), m.buyCooldown) {
		return ErrCooldownActive
	}
	if m.dailyLimit > 0 && ts.dailyBuyCount >= m.dailyLimit {
		return ErrDailyLimitReached
	}
	if ts.state != StateSelected && ts.state != StateCompleted {
		return fmt.Errorf("%w: buy from %s", ErrInvalidTransition, ts.state)
	}

	ts.buying = true
	ts.orderProcessed = false
	ts.currentOrderID = clientOrderID
	ts.orderHistory = append(ts.orderHistory, clientOrderID)
	m.transition(ts, StateBuyPending, "buy order submitted")
	return nil
}

// UpdateOrderID swaps the tracked order id once the broker assigns its own
// (also used when an amendment produces a fresh id).
func (m *Manager) UpdateOrderID(code, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.stocks[code]
	if !ok {
		return
	}
	ts.currentOrderID = orderID
	ts.orderHistory = append(ts.orderHistory, orderID)
}

// AbortBuy reverts BUY_PENDING when submission failed or the order was
// cancelled unfilled. The revert target depends on whether this was a
// re-trade: a stock that already completed a round trip today returns to
// COMPLETED, a fresh one to SELECTED.
func (m *Manager) AbortBuy(code, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return ErrUnknownStock
	}
	if ts.state != StateBuyPending {
		return fmt.Errorf("%w: abort buy from %s", ErrInvalidTransition, ts.state)
	}

	ts.buying = false
	ts.currentOrderID = ""
	target := StateSelected
	if ts.dailyBuyCount > 0 {
		target = StateCompleted
	}
	m.transition(ts, target, "buy aborted: "+reason)
	return nil
}

// ApplyBuyFill settles a buy fill. Returns applied=false for a duplicate
// delivery (poll and push callback may both observe the same fill); the
// caller must only touch the ledger when applied is true.
func (m *Manager) ApplyBuyFill(code, orderID string, qty int64, price float64) (applied bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return false, ErrUnknownStock
	}
	if ts.orderProcessed || ts.state == StatePositioned {
		logger.Debugf("trading: %s duplicate buy fill %s ignored", code, orderID)
		return false, nil
	}
	if ts.state != StateBuyPending {
		return false, fmt.Errorf("%w: buy fill in %s", ErrInvalidTransition, ts.state)
	}

	ts.orderProcessed = true
	ts.buying = false
	ts.position = &Position{Quantity: qty, AvgPrice: price, CurrentPrice: price}
	ts.currentOrderID = ""
	ts.lastBuyAt = m.nowFn()
	ts.dailyBuyCount++
	if ts.metadata.EntryPrice == 0 {
		ts.metadata.EntryPrice = price
	}
	m.transition(ts, StatePositioned, fmt.Sprintf("buy filled: %d @ %.0f", qty, price))
	return true, nil
}

// MarkSellCandidate flags a positioned stock for exit. Re-flagging an
// existing candidate is allowed (updated reason only).
func (m *Manager) MarkSellCandidate(code, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return ErrUnknownStock
	}
	if ts.state != StatePositioned && ts.state != StateSellCandidate {
		return fmt.Errorf("%w: sell candidate from %s", ErrInvalidTransition, ts.state)
	}
	if ts.position == nil {
		return ErrNoPosition
	}
	if ts.state == StatePositioned {
		m.transition(ts, StateSellCandidate, reason)
	}
	return nil
}

// BeginSell moves a SELL_CANDIDATE into SELL_PENDING ahead of order
// submission.
func (m *Manager) BeginSell(code, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return ErrUnknownStock
	}
	if ts.selling {
		return ErrAlreadySelling
	}
	if ts.state != StateSellCandidate {
		return fmt.Errorf("%w: sell from %s", ErrInvalidTransition, ts.state)
	}
	if ts.position == nil {
		return ErrNoPosition
	}

	ts.selling = true
	ts.orderProcessed = false
	ts.currentOrderID = clientOrderID
	ts.orderHistory = append(ts.orderHistory, clientOrderID)
	m.transition(ts, StateSellPending, "sell order submitted")
	return nil
}

// AbortSell reverts SELL_PENDING back to SELL_CANDIDATE.
func (m *Manager) AbortSell(code, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return ErrUnknownStock
	}
	if ts.state != StateSellPending {
		return fmt.Errorf("%w: abort sell from %s", ErrInvalidTransition, ts.state)
	}
	ts.selling = false
	ts.currentOrderID = ""
	m.transition(ts, StateSellCandidate, "sell aborted: "+reason)
	return nil
}

// ApplySellFill settles a sell fill, records realized P&L and completes the
// round trip. Duplicate deliveries are no-ops with applied=false.
func (m *Manager) ApplySellFill(code, orderID string, qty int64, price float64) (applied bool, pnl float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return false, 0, ErrUnknownStock
	}
	if ts.orderProcessed || ts.state == StateCompleted {
		logger.Debugf("trading: %s duplicate sell fill %s ignored", code, orderID)
		return false, 0, nil
	}
	if ts.state != StateSellPending {
		return false, 0, fmt.Errorf("%w: sell fill in %s", ErrInvalidTransition, ts.state)
	}
	if ts.position == nil {
		return false, 0, ErrNoPosition
	}

	pnl = (price - ts.position.AvgPrice) * float64(qty)
	ts.orderProcessed = true
	ts.selling = false
	ts.position = nil
	ts.currentOrderID = ""
	ts.realizedPnL += pnl
	m.transition(ts, StateCompleted, fmt.Sprintf("sell filled: %d @ %.0f (pnl %.0f)", qty, price, pnl))
	return true, pnl, nil
}

// OnOrderTimeout resolves a stuck pending order: BUY_PENDING reverts to its
// buy origin, SELL_PENDING back to SELL_CANDIDATE. Safe to call regardless of
// whether the external cancel succeeded.
func (m *Manager) OnOrderTimeout(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.stocks[code]
	if !ok {
		return ErrUnknownStock
	}
	switch ts.state {
	case StateBuyPending:
		ts.buying = false
		ts.currentOrderID = ""
		target := StateSelected
		if ts.dailyBuyCount > 0 {
			target = StateCompleted
		}
		m.transition(ts, target, "buy order timeout")
		return nil
	case StateSellPending:
		ts.selling = false
		ts.currentOrderID = ""
		m.transition(ts, StateSellCandidate, "sell order timeout")
		return nil
	default:
		return fmt.Errorf("%w: timeout in %s", ErrInvalidTransition, ts.state)
	}
}

// MarkFailed pulls a stock out of trading permanently (unrecoverable
// bootstrap failure or capital-accounting corruption).
func (m *Manager) MarkFailed(code, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.stocks[code]
	if !ok {
		return
	}
	ts.buying = false
	ts.selling = false
	ts.currentOrderID = ""
	m.transition(ts, StateFailed, reason)
}

// SetMetadata updates the entry parameters for a stock.
func (m *Manager) SetMetadata(code string, meta Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.stocks[code]; ok {
		ts.metadata = meta
	}
}

// UpdateCurrentPrice refreshes the mark price on an open position.
func (m *Manager) UpdateCurrentPrice(code string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.stocks[code]; ok && ts.position != nil && price > 0 {
		ts.position.CurrentPrice = price
	}
}

// Get returns a copy of the stock's current view.
func (m *Manager) Get(code string) (View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.stocks[code]
	if !ok {
		return View{}, false
	}
	return ts.view(), true
}

// ByState returns views of every stock currently in the given state.
func (m *Manager) ByState(state StockState) []View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]View, 0, len(m.byState[state]))
	for _, ts := range m.byState[state] {
		out = append(out, ts.view())
	}
	return out
}

// All returns views of every managed stock.
func (m *Manager) All() []View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]View, 0, len(m.stocks))
	for _, ts := range m.stocks {
		out = append(out, ts.view())
	}
	return out
}

// transition re-indexes the stock and logs the state change. Caller must
// hold m.mu.
func (m *Manager) transition(ts *TradingStock, to StockState, reason string) {
	from := ts.state
	delete(m.byState[from], ts.Code)
	ts.state = to
	m.byState[to][ts.Code] = ts
	logger.Infof("trading: %s(%s) %s -> %s | %s", ts.Code, ts.Name, from, to, reason)
}
