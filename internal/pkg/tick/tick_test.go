package tick

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSize(t *testing.T) {
	cases := []struct {
		price float64
		want  float64
	}{
		{1500, 1},
		{2000, 5},
		{4990, 5},
		{5000, 10},
		{19990, 10},
		{20000, 50},
		{49950, 50},
		{50000, 100},
		{199900, 100},
		{200000, 500},
		{499500, 500},
		{500000, 1000},
		{700000, 1000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Size(tc.price), "price=%.0f", tc.price)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 70100.0, Round(70123))
	assert.Equal(t, 1999.0, Round(1999.7))
	assert.Equal(t, 4995.0, Round(4999))
	assert.Equal(t, 0.0, Round(-10))
	assert.Equal(t, 70000.0, Round(70000))
}
