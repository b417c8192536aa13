package trading

// StockState is the authoritative lifecycle state of a tracked stock.
//
// Normal path:
//
//	SELECTED -> BUY_PENDING -> POSITIONED -> SELL_CANDIDATE -> SELL_PENDING -> COMPLETED
//
// COMPLETED may re-enter as a buy origin (re-trade) under the daily cap and
// the post-buy cooldown. Pending states revert on cancel/timeout. FAILED is
// terminal and set only on unrecoverable bootstrap failure.
type StockState int

const (
	StateSelected StockState = iota
	StateBuyPending
	StatePositioned
	StateSellCandidate
	StateSellPending
	StateCompleted
	StateFailed
)

func (s StockState) String() string {
	switch s {
	case StateSelected:
		return "SELECTED"
	case StateBuyPending:
		return "BUY_PENDING"
	case StatePositioned:
		return "POSITIONED"
	case StateSellCandidate:
		return "SELL_CANDIDATE"
	case StateSellPending:
		return "SELL_PENDING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// AllStates lists every lifecycle state, used to build per-state indexes.
var AllStates = []StockState{
	StateSelected, StateBuyPending, StatePositioned,
	StateSellCandidate, StateSellPending, StateCompleted, StateFailed,
}

// HasPosition reports whether the state implies an open position.
func (s StockState) HasPosition() bool {
	switch s {
	case StatePositioned, StateSellCandidate, StateSellPending:
		return true
	default:
		return false
	}
}
