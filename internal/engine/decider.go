package engine

import (
	"robotrader/internal/market"
	"robotrader/internal/trading"
)

// Decider is the decision layer. The engine feeds it the stock's lifecycle
// view, the combined intraday series and the latest quote; it answers with a
// verdict and a human-readable reason for the journal.
type Decider interface {
	// EvaluateBuy is consulted for stocks eligible to enter.
	EvaluateBuy(v trading.View, bars []market.Bar, quote market.PriceSnapshot) (bool, string)

	// EvaluateSell is consulted for stocks holding a position.
	EvaluateSell(v trading.View, bars []market.Bar, quote market.PriceSnapshot) (bool, string)
}

// RuleDecider is the default mechanical decision layer: it enters when the
// price crosses the configured entry level and exits on the stop-loss or
// take-profit attached at selection. Stocks without levels never trigger.
type RuleDecider struct{}

func (RuleDecider) EvaluateBuy(v trading.View, bars []market.Bar, quote market.PriceSnapshot) (bool, string) {
	if v.Metadata.EntryPrice <= 0 || quote.Price <= 0 {
		return false, ""
	}
	if quote.Price >= v.Metadata.EntryPrice {
		return true, "entry level reached"
	}
	return false, ""
}

func (RuleDecider) EvaluateSell(v trading.View, bars []market.Bar, quote market.PriceSnapshot) (bool, string) {
	if v.Position == nil || quote.Price <= 0 {
		return false, ""
	}
	if sl := v.Metadata.StopLoss; sl > 0 && quote.Price <= sl {
		return true, "stop loss hit"
	}
	if tp := v.Metadata.TakeProfit; tp > 0 && quote.Price >= tp {
		return true, "take profit hit"
	}
	return false, ""
}
