package feature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/feature"
)

func TestSteadyDriftProducesImpulseFields(t *testing.T) {
	fe := feature.NewEngine(feature.Config{
		ImpulseThresholdPct:  0.2,
		ImpulseWindowSeconds: 60,
		VolumeZThreshold:     -10,
		TradeRateBurst:       0.1,
	})

	// 40 ticks, +0.15 drift every 200ms.
	var snap domain.FeatureSnapshot
	ts := int64(1_700_000_000_000)
	price := 100.0
	for i := 0; i < 40; i++ {
		price += 0.15
		snap = fe.OnTrade(domain.TradeTick{
			Symbol:      "BTCUSDT",
			EventTimeMs: ts + int64(i)*200,
			Price:       price,
			Qty:         2.0,
			SpreadBps:   5.0,
		}, 1.0)
	}

	assert.GreaterOrEqual(t, snap.ImpulseScore, 0.0)
	assert.Greater(t, snap.TradeRate, 0.0)
	assert.Greater(t, snap.PriceChangePct, 0.0)
	assert.Greater(t, snap.Velocity, 0.0)
	// Exhaustion detection must produce a decision, not a panic.
	assert.IsType(t, false, snap.ExhaustionDetected)
}

func TestRobustZScoreNeedsTenBuckets(t *testing.T) {
	few := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, 0.0, feature.RobustZScore(100.0, few))

	// Ten identical samples: MAD is zero, still 0.
	same := make([]float64, 10)
	for i := range same {
		same[i] = 5.0
	}
	assert.Equal(t, 0.0, feature.RobustZScore(100.0, same))

	// Ten spread samples give a nonzero score for an outlier.
	spread := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Greater(t, feature.RobustZScore(100.0, spread), 0.0)
}

func TestVolumeZScoreZeroOnShortHistory(t *testing.T) {
	fe := feature.NewEngine(feature.Config{
		ImpulseThresholdPct:  0.2,
		ImpulseWindowSeconds: 60,
		VolumeZThreshold:     2.0,
	})

	// Only a few seconds of history: fewer than ten trailing buckets are
	// populated, so the z-score must stay pinned at zero.
	ts := int64(1_700_000_000_000)
	var snap domain.FeatureSnapshot
	for i := 0; i < 20; i++ {
		snap = fe.OnTrade(domain.TradeTick{
			Symbol:      "ETHUSDT",
			EventTimeMs: ts + int64(i)*100,
			Price:       2000,
			Qty:         1.0,
			SpreadBps:   3.0,
		}, 1.0)
	}
	assert.Equal(t, 0.0, snap.VolumeZScore)
}

func TestWindowTruncatesAt120Seconds(t *testing.T) {
	fe := feature.NewEngine(feature.Config{
		ImpulseThresholdPct:  0.2,
		ImpulseWindowSeconds: 60,
		VolumeZThreshold:     2.0,
	})

	ts := int64(1_700_000_000_000)
	fe.OnTrade(domain.TradeTick{Symbol: "X", EventTimeMs: ts, Price: 100, Qty: 50}, 1.0)

	// Two minutes and change later the old tick is outside every window.
	snap := fe.OnTrade(domain.TradeTick{
		Symbol:      "X",
		EventTimeMs: ts + 121_000,
		Price:       100,
		Qty:         1,
	}, 1.0)
	assert.Equal(t, 1.0, snap.Volume10s)
	assert.Equal(t, 1.0, snap.Volume5s)
}

func TestSymbolsDoNotShareState(t *testing.T) {
	fe := feature.NewEngine(feature.Config{
		ImpulseThresholdPct:  0.2,
		ImpulseWindowSeconds: 60,
		VolumeZThreshold:     2.0,
	})

	ts := int64(1_700_000_000_000)
	for i := 0; i < 10; i++ {
		fe.OnTrade(domain.TradeTick{Symbol: "AAA", EventTimeMs: ts + int64(i)*100, Price: 10, Qty: 100}, 1.0)
	}
	snap := fe.OnTrade(domain.TradeTick{Symbol: "BBB", EventTimeMs: ts + 1000, Price: 10, Qty: 1}, 1.0)

	require.Equal(t, "BBB", snap.Symbol)
	assert.Equal(t, 1.0, snap.Volume10s)
}

func TestImbalanceBounds(t *testing.T) {
	fe := feature.NewEngine(feature.Config{
		ImpulseThresholdPct:  0.2,
		ImpulseWindowSeconds: 60,
		VolumeZThreshold:     2.0,
	})

	ts := int64(1_700_000_000_000)
	var snap domain.FeatureSnapshot
	for i := 0; i < 5; i++ {
		snap = fe.OnTrade(domain.TradeTick{
			Symbol:        "SOLUSDT",
			EventTimeMs:   ts + int64(i)*100,
			Price:         150,
			Qty:           2,
			TakerIsSeller: false, // all taker buys
		}, 1.0)
	}
	assert.InDelta(t, 1.0, snap.Imbalance, 1e-9)

	for i := 5; i < 20; i++ {
		snap = fe.OnTrade(domain.TradeTick{
			Symbol:        "SOLUSDT",
			EventTimeMs:   ts + int64(i)*100,
			Price:         150,
			Qty:           20,
			TakerIsSeller: true,
		}, 1.0)
	}
	assert.Less(t, snap.Imbalance, 0.0)
	assert.GreaterOrEqual(t, snap.Imbalance, -1.0)
}
