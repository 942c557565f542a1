package domain

import (
	"encoding/json"
	"time"
)

// EventType tags the semantic meaning of a server event.
type EventType string

// Server -> client event types. The set is extensible: unknown values must be
// ignored by consumers, never treated as errors.
const (
	EventRunStarted   EventType = "run.started"
	EventMsgStart     EventType = "message.start"
	EventMsgDelta     EventType = "message.delta"
	EventMsgToolRes   EventType = "message.tool_result"
	EventMsgEnd       EventType = "message.end"
	EventMsgCancelled EventType = "message.cancelled"
	EventMsgError     EventType = "message.error"
	EventMsgSupersede EventType = "message.superseded"
	EventControlAck   EventType = "control.ack"
	EventResumeStatus EventType = "resume.status"

	// Coarse pipeline stage events emitted by coding runs.
	EventChecklistUpsert EventType = "checklist.upsert"
	EventPlanCreated     EventType = "plan.created"
	EventPlanFrozen      EventType = "plan.frozen"
	EventTestPassed      EventType = "test.passed"
	EventTestFailed      EventType = "test.failed"
)

// Terminal reports whether the event ends the run it belongs to.
func (t EventType) Terminal() bool {
	switch t {
	case EventMsgEnd, EventMsgCancelled, EventMsgError:
		return true
	}
	return false
}

// Envelope is the unit of wire communication from the server. Seq is strictly
// increasing within a RunID and is the sole ordering and dedup key; TS is
// advisory only.
type Envelope struct {
	SessionID string          `json:"session_id"`
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	TS        time.Time       `json:"ts,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// Cross-cutting correlation fields, copied through unchanged.
	TaskID string `json:"task_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Stage  string `json:"stage,omitempty"`
	PlanID string `json:"plan_id,omitempty"`
}

// DecodePayload unmarshals the envelope payload into v. A missing payload is
// not an error; v is left untouched.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// StartPayload accompanies run.started / message.start.
type StartPayload struct {
	MessageID string `json:"message_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// DeltaPayload accompanies message.delta.
type DeltaPayload struct {
	Delta string `json:"delta"`
}

// EndPayload accompanies message.end. Content may be omitted when the client
// already holds the accumulated deltas.
type EndPayload struct {
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// ErrorPayload accompanies message.error.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ToolResultPayload accompanies message.tool_result.
type ToolResultPayload struct {
	Tool    string `json:"tool"`
	Summary string `json:"summary,omitempty"`
	OK      bool   `json:"ok"`
}

// AckPayload accompanies control.ack.
type AckPayload struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"` // "accepted" | "rejected"
	Reason    string `json:"reason,omitempty"`
}

// SupersededPayload accompanies message.superseded.
type SupersededPayload struct {
	TargetMessageID string `json:"target_message_id"`
	NewMessageID    string `json:"new_message_id"`
	ByCommandID     string `json:"by_command_id"`
}

// AckAccepted and AckRejected are the control.ack status values.
const (
	AckAccepted = "accepted"
	AckRejected = "rejected"
)
