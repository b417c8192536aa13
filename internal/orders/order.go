package orders

import (
	"context"
	"time"
)

// Side is the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Order is an in-flight order tracked by the coordinator. ClientID is our
// idempotency key (it also keys the funds reservation for buys); BrokerID is
// the id the broker assigned on submission and the one fills reference.
type Order struct {
	BrokerID    string
	ClientID    string
	Code        string
	Side        Side
	Quantity    int64
	Price       float64
	SubmittedAt time.Time
	Deadline    time.Time
}

// Fill is a completed execution reported by the broker, via poll or push.
type Fill struct {
	BrokerID string
	Code     string
	Side     Side
	Quantity int64
	Price    float64
	At       time.Time
}

// Amount returns the executed notional.
func (f Fill) Amount() float64 {
	return float64(f.Quantity) * f.Price
}

// Service is the broker order API. market=true on PlaceSell submits at market
// price, used by the end-of-day liquidation sweep.
type Service interface {
	PlaceBuy(ctx context.Context, code string, qty int64, price float64) (brokerID string, err error)
	PlaceSell(ctx context.Context, code string, qty int64, price float64, market bool) (brokerID string, err error)
	Cancel(ctx context.Context, brokerID string) error
	CompletedOrders(ctx context.Context) ([]Fill, error)
}
