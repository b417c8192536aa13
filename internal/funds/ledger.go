package funds

import (
	"errors"
	"fmt"
	"sync"

	"robotrader/internal/logger"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when a reservation exceeds the
	// available balance. No ledger state is mutated.
	ErrInsufficientFunds = errors.New("funds: insufficient available funds")

	// ErrDuplicateReservation is returned when an order id already holds a
	// reservation.
	ErrDuplicateReservation = errors.New("funds: order already reserved")

	// ErrUnknownReservation is returned for confirm/cancel on an order id
	// that holds no reservation.
	ErrUnknownReservation = errors.New("funds: no reservation for order")

	// ErrConservation marks a broken accounting identity
	// (available + reserved + invested != total). Callers treat it as fatal
	// for the stock whose order triggered it.
	ErrConservation = errors.New("funds: conservation violated")
)

// Ledger tracks the session's capital split across available, reserved
// (earmarked for in-flight orders) and invested buckets. One instance per
// engine; every operation runs under a single lock and re-checks the
// conservation identity before returning.
type Ledger struct {
	mu sync.Mutex

	total     decimal.Decimal
	available decimal.Decimal
	reserved  decimal.Decimal
	invested  decimal.Decimal

	reservations map[string]decimal.Decimal

	perStockRatio decimal.Decimal
	maxTotalRatio decimal.Decimal
}

// Snapshot is a point-in-time copy of the ledger balances.
type Snapshot struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Invested  decimal.Decimal `json:"invested"`
}

// NewLedger creates a ledger funded with initial capital. perStockRatio caps
// a single stock's position, maxTotalRatio caps total deployed capital, both
// as fractions of total.
func NewLedger(initial decimal.Decimal, perStockRatio, maxTotalRatio float64) *Ledger {
	return &Ledger{
		total:         initial,
		available:     initial,
		reservations:  make(map[string]decimal.Decimal),
		perStockRatio: decimal.NewFromFloat(perStockRatio),
		maxTotalRatio: decimal.NewFromFloat(maxTotalRatio),
	}
}

// UpdateTotal resets total capital (e.g. from a broker balance query) and
// recomputes available around the standing reservations and investments.
func (l *Ledger) UpdateTotal(newTotal decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.total
	l.total = newTotal
	l.available = newTotal.Sub(l.reserved).Sub(l.invested)
	logger.Infof("funds: total updated %s -> %s (available %s)", old, newTotal, l.available)
}

// MaxBuyAmount returns the largest amount that may be committed to one stock
// right now: the per-stock cap, the remaining room under the total-investment
// cap, and the available balance, whichever is smallest.
func (l *Ledger) MaxBuyAmount() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	perStock := l.total.Mul(l.perStockRatio)
	capacity := l.total.Mul(l.maxTotalRatio).Sub(l.invested).Sub(l.reserved)

	m := perStock
	if capacity.LessThan(m) {
		m = capacity
	}
	if l.available.LessThan(m) {
		m = l.available
	}
	if m.IsNegative() {
		return decimal.Zero
	}
	return m
}

// Reserve earmarks amount for an in-flight order. It fails atomically, with
// no mutation, when the amount exceeds available or the order id already
// holds a reservation.
func (l *Ledger) Reserve(orderID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.available.LessThan(amount) {
		logger.Warnf("funds: reserve %s rejected, requested=%s available=%s", orderID, amount, l.available)
		return ErrInsufficientFunds
	}
	if _, ok := l.reservations[orderID]; ok {
		logger.Warnf("funds: reserve rejected, order %s already reserved", orderID)
		return ErrDuplicateReservation
	}

	l.available = l.available.Sub(amount)
	l.reserved = l.reserved.Add(amount)
	l.reservations[orderID] = amount

	logger.Infof("funds: reserved %s for order %s (available %s)", amount, orderID, l.available)
	return l.verify()
}

// Confirm settles a reservation after a buy fill: the actual filled amount
// moves to invested, any unspent remainder returns to available.
func (l *Ledger) Confirm(orderID string, actual decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reserved, ok := l.reservations[orderID]
	if !ok {
		logger.Warnf("funds: confirm for unknown order %s", orderID)
		return ErrUnknownReservation
	}
	delete(l.reservations, orderID)

	l.reserved = l.reserved.Sub(reserved)
	l.invested = l.invested.Add(actual)
	if refund := reserved.Sub(actual); refund.IsPositive() {
		l.available = l.available.Add(refund)
	}

	logger.Infof("funds: order %s confirmed, invested=%s refund=%s", orderID, actual, reserved.Sub(actual))
	return l.verify()
}

// Cancel returns a full reservation to available (order cancelled, timed out
// or never submitted).
func (l *Ledger) Cancel(orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reserved, ok := l.reservations[orderID]
	if !ok {
		logger.Warnf("funds: cancel for unknown order %s", orderID)
		return ErrUnknownReservation
	}
	delete(l.reservations, orderID)

	l.reserved = l.reserved.Sub(reserved)
	l.available = l.available.Add(reserved)

	logger.Infof("funds: order %s cancelled, refunded %s", orderID, reserved)
	return l.verify()
}

// ReleaseInvestment settles a sell fill: costBasis leaves invested, proceeds
// land in available, and total absorbs the realized difference so the
// identity keeps holding.
func (l *Ledger) ReleaseInvestment(costBasis, proceeds decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.invested = l.invested.Sub(costBasis)
	l.available = l.available.Add(proceeds)
	l.total = l.total.Add(proceeds.Sub(costBasis))

	logger.Infof("funds: released %s invested, proceeds %s (available %s)", costBasis, proceeds, l.available)
	return l.verify()
}

// Snapshot returns a copy of the current balances.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{Total: l.total, Available: l.available, Reserved: l.reserved, Invested: l.invested}
}

// verify re-checks the conservation identity. Caller must hold l.mu.
func (l *Ledger) verify() error {
	sum := l.available.Add(l.reserved).Add(l.invested)
	if !sum.Equal(l.total) {
		logger.Errorf("funds: CONSERVATION VIOLATED available=%s reserved=%s invested=%s total=%s",
			l.available, l.reserved, l.invested, l.total)
		return fmt.Errorf("%w: %s+%s+%s != %s", ErrConservation, l.available, l.reserved, l.invested, l.total)
	}
	return nil
}
