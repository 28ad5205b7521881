package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySpike(t *testing.T) {
	cases := []struct {
		name                                     string
		wick, burst, imbalance, refill, variance float64
		wantLabel                                string
		wantMultiplier                           float64
	}{
		{"news", 0, 3.0, 0, 1, 2.5, SpikeNewsLike, 0.5},
		{"spoof", 4.0, 1.0, 0, 0.1, 0, SpikeSpoofLike, 0.4},
		{"liquidation", 0, 2.0, 0.9, 1, 0, SpikeLiquidationLike, 0.8},
		{"default breakout", 0, 0, 0, 1, 0, SpikeBreakoutLike, 0.65},
		// News check wins over liquidation when both match.
		{"news beats liquidation", 0, 3.0, 0.9, 1, 2.5, SpikeNewsLike, 0.5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			label, mult := ClassifySpike(c.wick, c.burst, c.imbalance, c.refill, c.variance)
			assert.Equal(t, c.wantLabel, label)
			assert.Equal(t, c.wantMultiplier, mult)
		})
	}
}
