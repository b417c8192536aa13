package trading

import (
	"time"
)

// Position is an open holding resulting from a buy fill.
type Position struct {
	Quantity     int64   `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
}

// Value returns the position's cost basis.
func (p Position) Value() float64 {
	return float64(p.Quantity) * p.AvgPrice
}

// ProfitRate returns the unrealized return against the entry price, as a
// percentage. Zero when no current price is known yet.
func (p Position) ProfitRate() float64 {
	if p.AvgPrice <= 0 || p.CurrentPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgPrice) / p.AvgPrice * 100
}

// Metadata carries the per-trade parameters the decision layer attached at
// entry. Fixed fields rather than an open map so missing values are explicit
// zero values.
type Metadata struct {
	EntryPrice float64 `json:"entry_price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// TradingStock is the per-stock lifecycle record owned by the Manager. All
// mutation goes through guarded Manager transitions; the struct itself has no
// lock of its own.
type TradingStock struct {
	Code string
	Name string

	state          StockState
	position       *Position
	currentOrderID string
	orderHistory   []string

	// orderProcessed dedups fill delivery: the same fill can arrive via the
	// completed-order poll and the push callback.
	orderProcessed bool
	buying         bool
	selling        bool

	selectedAt    time.Time
	lastBuyAt     time.Time
	dailyBuyCount int
	realizedPnL   float64

	metadata Metadata
}

// View is a read-only copy of a TradingStock for callers outside the
// manager's lock.
type View struct {
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	State          StockState `json:"-"`
	StateName      string     `json:"state"`
	Position       *Position  `json:"position,omitempty"`
	CurrentOrderID string     `json:"current_order_id,omitempty"`
	SelectedAt     time.Time  `json:"selected_at"`
	DailyBuyCount  int        `json:"daily_buy_count"`
	RealizedPnL    float64    `json:"realized_pnl"`
	Metadata       Metadata   `json:"metadata"`
}

func (ts *TradingStock) view() View {
	v := View{
		Code:           ts.Code,
		Name:           ts.Name,
		State:          ts.state,
		StateName:      ts.state.String(),
		CurrentOrderID: ts.currentOrderID,
		SelectedAt:     ts.selectedAt,
		DailyBuyCount:  ts.dailyBuyCount,
		RealizedPnL:    ts.realizedPnL,
		Metadata:       ts.metadata,
	}
	if ts.position != nil {
		p := *ts.position
		v.Position = &p
	}
	return v
}

func (ts *TradingStock) cooldownActive(now time.Time, cooldown time.Duration) bool {
	if ts.lastBuyAt.IsZero() || cooldown <= 0 {
		return false
	}
	return now.Sub(ts.lastBuyAt) < cooldown
}
