package tick

// Size returns the KRX tick size for a given price level.
func Size(price float64) float64 {
	switch {
	case price < 2000:
		return 1
	case price < 5000:
		return 5
	case price < 20000:
		return 10
	case price < 50000:
		return 50
	case price < 200000:
		return 100
	case price < 500000:
		return 500
	default:
		return 1000
	}
}

// Round snaps a price down to the nearest valid tick. Limit orders at an
// off-tick price are rejected by the exchange.
func Round(price float64) float64 {
	if price <= 0 {
		return 0
	}
	t := Size(price)
	return float64(int64(price/t)) * t
}
