package market

import (
	"time"
)

// BatchPlan is the per-cycle refresh schedule: fetch batchSize stocks
// concurrently, then wait batchDelay before the next batch. Recomputed every
// cycle from the live tracked-stock count, never persisted.
type BatchPlan struct {
	BatchSize  int
	BatchDelay time.Duration
}

// NumBatches returns how many batches a cycle over totalStocks needs.
func (p BatchPlan) NumBatches(totalStocks int) int {
	if p.BatchSize <= 0 || totalStocks <= 0 {
		return 0
	}
	return (totalStocks + p.BatchSize - 1) / p.BatchSize
}

// EstimatedTime returns the projected duration of one full cycle.
func (p BatchPlan) EstimatedTime(totalStocks int) time.Duration {
	return time.Duration(p.NumBatches(totalStocks)) * p.BatchDelay
}

// CallsPerSecond returns the API call rate the plan settles at.
func (p BatchPlan) CallsPerSecond(callsPerStock int) float64 {
	if p.BatchDelay <= 0 {
		return 0
	}
	return float64(p.BatchSize*callsPerStock) / p.BatchDelay.Seconds()
}

// PlanBatches computes a refresh schedule for totalStocks stocks that keeps
// the brokerage's hard per-second call budget while finishing one full pass
// within roughly targetSeconds.
//
// Small counts use fixed presets biased toward latency; counts above fifty
// are derived from the call budget: the minimum batch count that fits the
// required calls through the per-second ceiling, with the inter-batch delay
// floored at 500ms and, when the derived delay would exceed one second, the
// batch size capped to one second's worth of calls.
func PlanBatches(totalStocks, callsPerStock, ceilingPerSecond int, targetSeconds float64) BatchPlan {
	if totalStocks <= 0 {
		return BatchPlan{BatchSize: 1, BatchDelay: 500 * time.Millisecond}
	}

	switch {
	case totalStocks <= 10:
		return BatchPlan{BatchSize: 10, BatchDelay: 200 * time.Millisecond}
	case totalStocks <= 30:
		return BatchPlan{BatchSize: 10, BatchDelay: 500 * time.Millisecond}
	case totalStocks <= 50:
		return BatchPlan{BatchSize: 8, BatchDelay: 800 * time.Millisecond}
	}

	return planLarge(totalStocks, callsPerStock, ceilingPerSecond)
}

func planLarge(totalStocks, callsPerStock, ceilingPerSecond int) BatchPlan {
	if callsPerStock <= 0 {
		callsPerStock = 1
	}
	if ceilingPerSecond <= 0 {
		ceilingPerSecond = 1
	}
	totalCalls := totalStocks * callsPerStock

	// Minimum batches so each delay-spaced batch stays under the ceiling.
	minBatches := totalCalls / ceilingPerSecond
	if minBatches < 1 {
		minBatches = 1
	}

	batchSize := (totalStocks + minBatches - 1) / minBatches
	if batchSize < 3 {
		batchSize = 3
	}

	delaySec := float64(batchSize*callsPerStock) / float64(ceilingPerSecond)
	if delaySec < 0.5 {
		delaySec = 0.5
	}
	if delaySec > 1.0 {
		// Too much burst per batch: shrink to one second's call budget.
		batchSize = ceilingPerSecond / callsPerStock
		if batchSize < 3 {
			batchSize = 3
		}
		delaySec = float64(batchSize*callsPerStock) / float64(ceilingPerSecond)
	}

	return BatchPlan{
		BatchSize:  batchSize,
		BatchDelay: time.Duration(delaySec * float64(time.Second)),
	}
}
