package orders

import (
	"context"
	"sync"
	"time"

	"robotrader/internal/funds"
	"robotrader/internal/logger"
	"robotrader/internal/trading"

	"github.com/shopspring/decimal"
)

// Journal persists settled trades. Implemented by the sqlite store.
type Journal interface {
	RecordBuy(code, name string, qty int64, price float64, meta trading.Metadata) error
	RecordSell(code string, qty int64, price float64, pnl float64) error
}

// Notifier delivers out-of-band trade alerts. Implementations must not block.
type Notifier interface {
	Notify(title, message string)
}

// Coordinator reconciles in-flight orders against broker reality. Fills can
// arrive twice (completed-order poll and push callback race); settlement runs
// exactly once per order because the state machine dedups and the coordinator
// only touches the ledger when the fill was actually applied.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*Order

	svc      Service
	manager  *trading.Manager
	ledger   *funds.Ledger
	journal  Journal
	notifier Notifier

	timeout time.Duration
	nowFn   func() time.Time
}

// NewCoordinator wires the reconciliation loop dependencies. timeout is how
// long a submitted order may stay unfilled before it is cancelled and its
// stock reverted.
func NewCoordinator(svc Service, manager *trading.Manager, ledger *funds.Ledger,
	journal Journal, notifier Notifier, timeout time.Duration) *Coordinator {
	return &Coordinator{
		pending:  make(map[string]*Order),
		svc:      svc,
		manager:  manager,
		ledger:   ledger,
		journal:  journal,
		notifier: notifier,
		timeout:  timeout,
		nowFn:    time.Now,
	}
}

// Track registers a freshly submitted order for reconciliation.
func (c *Coordinator) Track(o Order) {
	now := c.nowFn()
	if o.SubmittedAt.IsZero() {
		o.SubmittedAt = now
	}
	if o.Deadline.IsZero() {
		o.Deadline = o.SubmittedAt.Add(c.timeout)
	}
	c.mu.Lock()
	c.pending[o.BrokerID] = &o
	n := len(c.pending)
	c.mu.Unlock()
	logger.Infof("orders: tracking %s %s for %s (%d @ %.0f, %d pending)",
		o.Side, o.BrokerID, o.Code, o.Quantity, o.Price, n)
}

// Pending returns copies of all currently tracked orders.
func (c *Coordinator) Pending() []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Order, 0, len(c.pending))
	for _, o := range c.pending {
		out = append(out, *o)
	}
	return out
}

// OnFill is the push-callback entry point for a broker fill notification.
func (c *Coordinator) OnFill(f Fill) {
	c.applyFill(f)
}

// Poll queries the broker's completed orders and settles any that match a
// tracked order. Fills already settled via OnFill are skipped.
func (c *Coordinator) Poll(ctx context.Context) error {
	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n == 0 {
		return nil
	}

	fills, err := c.svc.CompletedOrders(ctx)
	if err != nil {
		logger.Warnf("orders: completed-order poll failed: %v", err)
		return err
	}
	for _, f := range fills {
		c.applyFill(f)
	}
	return nil
}

// CheckTimeouts cancels orders past their deadline and reverts their stocks.
// The broker cancel is best effort. Expiry stops tracking the order first, so
// a fill that raced the cancel arrives untracked and settles nothing; the
// revert has already released the stock and any buy reservation.
func (c *Coordinator) CheckTimeouts(ctx context.Context) {
	now := c.nowFn()

	c.mu.Lock()
	var expired []*Order
	for id, o := range c.pending {
		if now.After(o.Deadline) {
			expired = append(expired, o)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, o := range expired {
		logger.Warnf("orders: %s %s for %s timed out after %s", o.Side, o.BrokerID, o.Code, c.timeout)
		c.expire(ctx, o, "order cancelled after timeout")
	}
}

// CancelPendingBuys force-expires every tracked buy order, reverting the
// stock and releasing its reservation. End-of-day failsafe: a buy that has
// not filled by the close must not carry a reservation overnight. Returns the
// number of orders cancelled.
func (c *Coordinator) CancelPendingBuys(ctx context.Context) int {
	c.mu.Lock()
	var stale []*Order
	for id, o := range c.pending {
		if o.Side == SideBuy {
			stale = append(stale, o)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, o := range stale {
		logger.Warnf("orders: buy %s for %s swept unfilled", o.BrokerID, o.Code)
		c.expire(ctx, o, "unfilled buy swept at end of day")
	}
	return len(stale)
}

// expire reverts an order already removed from pending: internal state first,
// reservation release for buys, then the best-effort broker cancel.
func (c *Coordinator) expire(ctx context.Context, o *Order, reason string) {
	if err := c.manager.OnOrderTimeout(o.Code); err != nil {
		logger.Warnf("orders: revert for %s: %v", o.Code, err)
	}
	if o.Side == SideBuy {
		if err := c.ledger.Cancel(o.ClientID); err != nil {
			logger.Errorf("orders: releasing reservation %s: %v", o.ClientID, err)
		}
	}
	if err := c.svc.Cancel(ctx, o.BrokerID); err != nil {
		logger.Warnf("orders: broker cancel %s failed: %v", o.BrokerID, err)
	}
	if c.notifier != nil {
		c.notifier.Notify("Order Cancelled", o.Code+" "+o.Side.String()+" "+reason)
	}
}

// Drop stops tracking an order without settling it (used when submission is
// rolled back before any fill can exist).
func (c *Coordinator) Drop(brokerID string) {
	c.mu.Lock()
	delete(c.pending, brokerID)
	c.mu.Unlock()
}

func (c *Coordinator) applyFill(f Fill) {
	c.mu.Lock()
	o, ok := c.pending[f.BrokerID]
	if ok {
		delete(c.pending, f.BrokerID)
	}
	c.mu.Unlock()
	if !ok {
		logger.Debugf("orders: fill for untracked order %s ignored", f.BrokerID)
		return
	}

	switch o.Side {
	case SideBuy:
		c.settleBuy(o, f)
	case SideSell:
		c.settleSell(o, f)
	}
}

func (c *Coordinator) settleBuy(o *Order, f Fill) {
	applied, err := c.manager.ApplyBuyFill(o.Code, o.ClientID, f.Quantity, f.Price)
	if err != nil {
		logger.Errorf("orders: buy fill for %s rejected: %v", o.Code, err)
		return
	}
	if !applied {
		return
	}

	actual := decimal.NewFromInt(f.Quantity).Mul(decimal.NewFromFloat(f.Price))
	if err := c.ledger.Confirm(o.ClientID, actual); err != nil {
		logger.Errorf("orders: confirming funds for %s: %v", o.Code, err)
		c.manager.MarkFailed(o.Code, "capital accounting failure on buy settlement")
		if c.notifier != nil {
			c.notifier.Notify("CRITICAL: Ledger Failure",
				o.Code+" buy settled but funds confirmation failed: "+err.Error())
		}
		return
	}

	view, _ := c.manager.Get(o.Code)
	if c.journal != nil {
		if err := c.journal.RecordBuy(o.Code, view.Name, f.Quantity, f.Price, view.Metadata); err != nil {
			logger.Warnf("orders: journaling buy for %s: %v", o.Code, err)
		}
	}
	if c.notifier != nil {
		c.notifier.Notify("Buy Filled", view.Name+" ("+o.Code+")")
	}
}

func (c *Coordinator) settleSell(o *Order, f Fill) {
	applied, pnl, err := c.manager.ApplySellFill(o.Code, o.ClientID, f.Quantity, f.Price)
	if err != nil {
		logger.Errorf("orders: sell fill for %s rejected: %v", o.Code, err)
		return
	}
	if !applied {
		return
	}

	proceeds := decimal.NewFromInt(f.Quantity).Mul(decimal.NewFromFloat(f.Price))
	costBasis := proceeds.Sub(decimal.NewFromFloat(pnl))
	if err := c.ledger.ReleaseInvestment(costBasis, proceeds); err != nil {
		logger.Errorf("orders: releasing investment for %s: %v", o.Code, err)
		c.manager.MarkFailed(o.Code, "capital accounting failure on sell settlement")
		if c.notifier != nil {
			c.notifier.Notify("CRITICAL: Ledger Failure",
				o.Code+" sell settled but investment release failed: "+err.Error())
		}
		return
	}

	if c.journal != nil {
		if err := c.journal.RecordSell(o.Code, f.Quantity, f.Price, pnl); err != nil {
			logger.Warnf("orders: journaling sell for %s: %v", o.Code, err)
		}
	}
	if c.notifier != nil {
		c.notifier.Notify("Sell Filled", o.Code)
	}
}
