package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's append-only message log. Superseding a
// message (edit-resend) appends a replacement and flags the original; nothing
// is mutated or deleted, so the audit trail survives.
type Message struct {
	ID           string            `json:"id"`
	Role         Role              `json:"role"`
	Content      string            `json:"content"`
	Timestamp    time.Time         `json:"timestamp"`
	Superseded   bool              `json:"superseded,omitempty"`
	SupersededBy string            `json:"superseded_by,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
