package domain

import "time"

// FrameKind tags a client -> server frame.
type FrameKind string

const (
	FrameMessageSend FrameKind = "message.send"
	FrameStop        FrameKind = "control.stop"
	FrameEditResend  FrameKind = "control.edit_resend"
	FrameSnapshotReq FrameKind = "state.snapshot_request"
)

// Frame is a client -> server message on the duplex channel.
type Frame struct {
	Kind      FrameKind         `json:"kind"`
	SessionID string            `json:"session_id"`
	RunID     string            `json:"run_id,omitempty"`
	CommandID string            `json:"command_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	TargetID  string            `json:"target_message_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CommandKind is the class of a mid-stream control action.
type CommandKind string

const (
	CommandStop       CommandKind = "stop"
	CommandEditResend CommandKind = "edit_resend"
)

// PendingCommand tracks a control action awaiting server acknowledgement.
// Commands are client-generated, globally-unique tokens; the server echoes
// the id back in its ack or effect event. NewContent is kept locally so the
// supersede event need not echo content over the wire.
type PendingCommand struct {
	CommandID       string      `json:"command_id"`
	Kind            CommandKind `json:"kind"`
	IssuedAt        time.Time   `json:"issued_at"`
	TargetMessageID string      `json:"target_message_id,omitempty"`
	NewContent      string      `json:"new_content,omitempty"`
}
