package client

import (
	"context"

	"github.com/agentic-observability/aef/pkg/events"
	"github.com/agentic-observability/aef/pkg/session"
	"github.com/google/uuid"
)

// SessionOptions configures Session (SPEC_FULL.md §4 "Session context
// convenience API").
type SessionOptions struct {
	SessionID         string
	Model             string
	Provider          string
	ModelDisplayName  string
	Pricing           session.PricingRates
}

// TokenUsageParams is the explicit parameters struct standing in for the
// source's dynamic named arguments to record_interaction (spec §9).
type TokenUsageParams struct {
	InputTokens      int
	OutputTokens     int
	DurationMS       float64
	PromptPreview    string
	ResponsePreview  string
}

// ToolCallParams is the explicit parameters struct standing in for the
// source's dynamic named arguments to record_tool_call (spec §9).
type ToolCallParams struct {
	ToolName     string
	ToolInput    map[string]any
	ToolUseID    string // auto-generated if empty
	ToolOutput   string
	DurationMS   float64
	Blocked      bool
	BlockReason  string
}

// Session scopes a sequence of emitted events to one session_id and
// maintains the matching Summary locally, mirroring the aggregates the
// source's SessionContext keeps for its SessionEnded event.
type Session struct {
	client  *Client
	ctx     context.Context
	summary *session.Summary
	opts    SessionOptions
}

// Session starts a new session: emits session.started immediately and
// returns a handle for recording interactions within it. Callers must
// call End to emit session.ended and finalize the summary.
func (c *Client) Session(ctx context.Context, opts SessionOptions) (*Session, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	s := &Session{
		client:  c,
		ctx:     ctx,
		summary: session.New(opts.SessionID, opts.Pricing),
		opts:    opts,
	}

	start := events.New(events.TypeSessionStarted, opts.SessionID, map[string]any{
		"model":              opts.Model,
		"provider":           opts.Provider,
		"model_display_name": opts.ModelDisplayName,
	})
	if err := s.emitAndTrack(start); err != nil {
		return nil, err
	}
	return s, nil
}

// SessionID returns the scoped session identifier.
func (s *Session) SessionID() string { return s.opts.SessionID }

// Summary returns the live per-session aggregate (spec §3.3).
func (s *Session) Summary() *session.Summary { return s.summary }

// TokensUsed emits tokens.used and updates the local summary.
func (s *Session) TokensUsed(p TokenUsageParams) error {
	data := map[string]any{
		"input_tokens":  float64(p.InputTokens),
		"output_tokens": float64(p.OutputTokens),
	}
	if p.DurationMS > 0 {
		data["duration_ms"] = p.DurationMS
	}
	if p.PromptPreview != "" {
		data["prompt_preview"] = truncate(p.PromptPreview, 100)
	}
	if p.ResponsePreview != "" {
		data["response_preview"] = truncate(p.ResponsePreview, 100)
	}
	return s.emitAndTrack(events.New(events.TypeTokensUsed, s.opts.SessionID, data))
}

// ToolCalled emits tool.called and updates the local summary.
func (s *Session) ToolCalled(p ToolCallParams) error {
	toolUseID := p.ToolUseID
	if toolUseID == "" {
		toolUseID = "toolu_" + uuid.NewString()[:12]
	}
	data := map[string]any{
		"tool_name":  p.ToolName,
		"tool_input": p.ToolInput,
		"blocked":    p.Blocked,
	}
	if p.ToolOutput != "" {
		data["tool_output"] = p.ToolOutput
	}
	if p.DurationMS > 0 {
		data["duration_ms"] = p.DurationMS
	}
	if p.BlockReason != "" {
		data["block_reason"] = p.BlockReason
	}

	e := events.New(events.TypeToolCalled, s.opts.SessionID, data)
	e.ToolUseID = toolUseID
	return s.emitAndTrack(e)
}

// End emits session.ended with exitReason and finalizes the summary.
func (s *Session) End(exitReason string) error {
	if exitReason == "" {
		exitReason = "completed"
	}
	e := events.New(events.TypeSessionEnded, s.opts.SessionID, map[string]any{"exit_reason": exitReason})
	return s.emitAndTrack(e)
}

func (s *Session) emitAndTrack(e events.Event) error {
	if err := s.summary.Apply(e); err != nil {
		return err
	}
	return s.client.Emit(s.ctx, e)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
