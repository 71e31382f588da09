// Package session implements the session aggregator (C9): a per-session
// counter bundle driven by a small event_type state machine. pkg/client's
// Session keeps one per local session; the ingestion endpoint does not
// build summaries from ingested events.
package session

import (
	"fmt"
	"time"

	"github.com/agentic-observability/aef/pkg/events"
)

// State is the aggregator's lifecycle state (spec §4.9).
type State string

const (
	StateUninitialised State = "uninitialised"
	StateActive        State = "active"
	StateEnded         State = "ended"
)

// PricingRates holds per-million-token USD rates used to compute cost on
// session.ended.
type PricingRates struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Summary is the per-session aggregate described in spec §3.3.
type Summary struct {
	SessionID string
	State     State

	Model    string
	Provider string

	InputTokens      int64
	OutputTokens     int64
	InteractionCount int64
	ToolCallCount    int64
	ToolCallsBlocked int64
	TotalDurationMS  float64

	CostEstimate float64
	ExitReason   string

	StartedAt time.Time
	EndedAt   time.Time

	Pricing PricingRates
}

// New constructs an uninitialised Summary for sessionID.
func New(sessionID string, pricing PricingRates) *Summary {
	return &Summary{SessionID: sessionID, State: StateUninitialised, Pricing: pricing}
}

// TotalTokens is input+output (spec §3.3 derived metric).
func (s *Summary) TotalTokens() int64 { return s.InputTokens + s.OutputTokens }

// AvgTokensPerInteraction is total_tokens / interaction_count, 0 when no
// interactions have occurred.
func (s *Summary) AvgTokensPerInteraction() float64 {
	if s.InteractionCount == 0 {
		return 0
	}
	return float64(s.TotalTokens()) / float64(s.InteractionCount)
}

// TokensPerSecond is total_tokens / (total_duration_ms/1000), 0 when no
// duration has accumulated.
func (s *Summary) TokensPerSecond() float64 {
	if s.TotalDurationMS == 0 {
		return 0
	}
	return float64(s.TotalTokens()) / (s.TotalDurationMS / 1000)
}

// Apply feeds one event into the state machine (spec §4.9). Re-entering a
// terminal state (another event after session.ended) is an error.
func (s *Summary) Apply(e events.Event) error {
	if s.State == StateEnded {
		return fmt.Errorf("session %s: already ended, cannot apply %s", s.SessionID, e.EventType)
	}

	switch e.EventType {
	case events.TypeSessionStarted:
		s.State = StateActive
		s.StartedAt = e.Timestamp
		s.Model = stringField(e.Data, "model")
		s.Provider = stringField(e.Data, "provider")

	case events.TypeTokensUsed:
		s.InputTokens += intField(e.Data, "input_tokens")
		s.OutputTokens += intField(e.Data, "output_tokens")
		s.InteractionCount++
		s.TotalDurationMS += floatField(e.Data, "duration_ms")

	case events.TypeToolCalled:
		s.ToolCallCount++
		if boolField(e.Data, "blocked") {
			s.ToolCallsBlocked++
		}

	case events.TypeSessionEnded, events.TypeSessionCompleted:
		s.CostEstimate = (float64(s.InputTokens)/1_000_000)*s.Pricing.InputPer1M +
			(float64(s.OutputTokens)/1_000_000)*s.Pricing.OutputPer1M
		s.EndedAt = e.Timestamp
		s.ExitReason = stringField(e.Data, "exit_reason")
		if s.ExitReason == "" {
			s.ExitReason = "completed"
		}
		s.State = StateEnded
	}

	return nil
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func boolField(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func intField(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func floatField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
