// Package events defines the canonical event model shared by every backend,
// the buffer, the client, the recorder/player, and the ingestion endpoint.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is an event_type value. The vocabulary below is the closed set
// implementers must recognize; any other string survives as an opaque
// forward-compatible value (the "custom" escape hatch).
type Type string

// Canonical event types (spec §6.1).
const (
	TypeSessionStarted   Type = "session.started"
	TypeSessionEnded     Type = "session.ended"
	TypeSessionCompleted Type = "session.completed"

	TypeTokensUsed Type = "tokens.used"

	TypeToolCalled             Type = "tool.called"
	TypeToolExecutionStarted   Type = "tool.execution_started"
	TypeToolExecutionCompleted Type = "tool.execution_completed"
	TypeToolBlocked            Type = "tool.blocked"
	TypeToolExecutionFailed    Type = "tool.execution_failed"

	TypeSecurityDecision Type = "security_decision"

	TypeUserPromptSubmitted Type = "user.prompt_submitted"
	TypePermissionRequested Type = "permission.requested"

	TypeNotification      Type = "notification"
	TypeContextCompacted  Type = "context_compacted"
	TypeAgentStopped      Type = "agent_stopped"
	TypeSubagentStopped   Type = "subagent_stopped"

	TypeGitCommit        Type = "git.commit"
	TypeGitPush          Type = "git.push"
	TypeGitMerge         Type = "git.merge"
	TypeGitRewrite       Type = "git.rewrite"
	TypeGitBranchChanged Type = "git.branch_changed"
	TypeGitOperation     Type = "git.operation"

	// Supplemented from original_source's agentic_events emitter — not in
	// spec's closed set but not excluded by a Non-goal either.
	TypeTeammateIdle   Type = "teammate_idle"
	TypeTaskCompleted  Type = "task_completed"
	TypeSubagentStarted Type = "subagent_started"
)

// SecurityDecision values for the security_decision event's "decision" field.
type SecurityDecision string

const (
	DecisionAllow SecurityDecision = "allow"
	DecisionBlock SecurityDecision = "block"
	DecisionWarn  SecurityDecision = "warn"
)

// Event is a single observation flowing through the pipeline.
//
// event_id is immutable once assigned. timestamp defaults to emission time
// when absent. session_id is required downstream but deserialization
// tolerates an empty value — callers must validate.
type Event struct {
	EventID     string         `json:"event_id"`
	EventType   Type           `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	SessionID   string         `json:"session_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	PhaseID     string         `json:"phase_id,omitempty"`
	MilestoneID string         `json:"milestone_id,omitempty"`
	ToolUseID   string         `json:"tool_use_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// New constructs an Event of eventType for sessionID carrying data, with a
// freshly generated event_id and the current UTC time as timestamp. The
// optional correlation fields are left empty for the caller to assign.
func New(eventType Type, sessionID string, data map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Data:      data,
	}
}

// jsonEvent mirrors Event's wire shape exactly; used to control omission of
// nil-valued fields without reordering keys (encoding/json already omits
// omitempty fields, so this exists purely for the timestamp format).
type jsonEvent struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	Timestamp   string         `json:"timestamp"`
	SessionID   string         `json:"session_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	PhaseID     string         `json:"phase_id,omitempty"`
	MilestoneID string         `json:"milestone_id,omitempty"`
	ToolUseID   string         `json:"tool_use_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// MarshalJSON renders the event with RFC3339 UTC timestamps and without
// sorting keys beyond what encoding/json already does for a struct.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonEvent{
		EventID:     e.EventID,
		EventType:   string(e.EventType),
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID:   e.SessionID,
		WorkflowID:  e.WorkflowID,
		PhaseID:     e.PhaseID,
		MilestoneID: e.MilestoneID,
		ToolUseID:   e.ToolUseID,
		Data:        e.Data,
	})
}

// UnmarshalJSON accepts event_type as any string and timestamp as an
// RFC3339 string; a missing session_id defaults to "" rather than erroring
// (spec §4.1 — callers must validate downstream).
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw jsonEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	ts := time.Now().UTC()
	if raw.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, raw.Timestamp)
			if err != nil {
				return fmt.Errorf("parse timestamp %q: %w", raw.Timestamp, err)
			}
		}
		ts = parsed
	}

	*e = Event{
		EventID:     raw.EventID,
		EventType:   Type(raw.EventType),
		Timestamp:   ts,
		SessionID:   raw.SessionID,
		WorkflowID:  raw.WorkflowID,
		PhaseID:     raw.PhaseID,
		MilestoneID: raw.MilestoneID,
		ToolUseID:   raw.ToolUseID,
		Data:        raw.Data,
	}
	return nil
}

// FromMap builds an Event from a generic map, regenerating event_id and
// timestamp only when absent from the input — the round-trip invariant
// required by spec §4.1.
func FromMap(m map[string]any) (Event, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Event{}, fmt.Errorf("marshal source map: %w", err)
	}
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, err
	}
	if _, ok := m["event_id"]; !ok || e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if _, ok := m["timestamp"]; !ok {
		e.Timestamp = time.Now().UTC()
	}
	return e, nil
}

// ToMap renders the event as a generic map suitable for further
// transformation (e.g. recorder timing injection).
func (e Event) ToMap() (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the minimal set of required fields for ingestion
// (spec §4.10): event_type and session_id must be non-empty.
func (e Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	return nil
}
