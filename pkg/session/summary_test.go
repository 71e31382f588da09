package session

import (
	"testing"

	"github.com/agentic-observability/aef/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostFormulaMatchesSpec(t *testing.T) {
	s := New("s1", PricingRates{InputPer1M: 3, OutputPer1M: 15})
	require.NoError(t, s.Apply(events.New(events.TypeSessionStarted, "s1", map[string]any{"model": "x"})))
	require.NoError(t, s.Apply(events.New(events.TypeTokensUsed, "s1", map[string]any{
		"input_tokens": float64(1_000_000), "output_tokens": float64(500_000),
	})))
	require.NoError(t, s.Apply(events.New(events.TypeSessionEnded, "s1", nil)))

	assert.Equal(t, StateEnded, s.State)
	assert.InDelta(t, 3+7.5, s.CostEstimate, 0.0001)
}

func TestToolCallsBlockedCounter(t *testing.T) {
	s := New("s1", PricingRates{})
	require.NoError(t, s.Apply(events.New(events.TypeToolCalled, "s1", map[string]any{"blocked": true})))
	require.NoError(t, s.Apply(events.New(events.TypeToolCalled, "s1", map[string]any{"blocked": false})))
	assert.Equal(t, int64(2), s.ToolCallCount)
	assert.Equal(t, int64(1), s.ToolCallsBlocked)
}

func TestReenteringTerminalStateIsError(t *testing.T) {
	s := New("s1", PricingRates{})
	require.NoError(t, s.Apply(events.New(events.TypeSessionEnded, "s1", nil)))
	err := s.Apply(events.New(events.TypeTokensUsed, "s1", nil))
	require.Error(t, err)
}

func TestDerivedMetrics(t *testing.T) {
	s := New("s1", PricingRates{})
	require.NoError(t, s.Apply(events.New(events.TypeTokensUsed, "s1", map[string]any{
		"input_tokens": float64(100), "output_tokens": float64(50), "duration_ms": float64(2000),
	})))
	assert.Equal(t, int64(150), s.TotalTokens())
	assert.InDelta(t, 150, s.AvgTokensPerInteraction(), 0.0001)
	assert.InDelta(t, 75, s.TokensPerSecond(), 0.0001)
}
