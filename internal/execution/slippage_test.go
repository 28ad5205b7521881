package execution_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmodyrko/trading-bot-test/internal/execution"
)

func model() execution.SlippageModel {
	return execution.SlippageModel{
		MaxSlippageBps:   8.0,
		SpreadGuardBps:   15.0,
		EdgeSafetyFactor: 0.7,
	}
}

func TestExpectedSlippageWithDepth(t *testing.T) {
	m := model()
	// spread/2 + size/depth*1e4 + vol*1e4*0.15
	got := m.ExpectedSlippageBps(100, 4, 0.01, 50_000, 0)
	assert.InDelta(t, 2.0+0.02*1000+15.0, got, 1e-9)
}

func TestExpectedSlippageFallsBackToImpact(t *testing.T) {
	m := model()
	got := m.ExpectedSlippageBps(100, 4, 0.0, 0, 0.00005)
	assert.InDelta(t, 2.0+0.00005*100*10_000, got, 1e-9)
}

func TestValidateRejectsWhenCostExceedsEdge(t *testing.T) {
	m := execution.SlippageModel{
		MaxSlippageBps:   50.0, // generous so only the edge check can fire
		SpreadGuardBps:   15.0,
		EdgeSafetyFactor: 0.7,
	}
	expected := m.ExpectedSlippageBps(100, 4, 0.01, 0, 0.00005)

	ok, reason := m.Validate(expected, 4, 2.0)
	require.False(t, ok)
	assert.Equal(t, execution.ReasonCostExceedsEdge, reason)
}

func TestValidateOrderOfChecks(t *testing.T) {
	m := model()

	// Spread guard fires first even when everything else fails too.
	ok, reason := m.Validate(100, 20, 0.1)
	require.False(t, ok)
	assert.Equal(t, execution.ReasonSpreadGuard, reason)

	// Then the absolute cap.
	ok, reason = m.Validate(100, 4, 0.1)
	require.False(t, ok)
	assert.Equal(t, execution.ReasonSlippageGuard, reason)

	ok, reason = m.Validate(1.0, 4, 100)
	require.True(t, ok)
	assert.Equal(t, execution.ReasonOK, reason)
}
