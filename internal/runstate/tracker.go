// Package runstate derives UI-facing state from the normalized event stream:
// the run lifecycle, the append-only message log, and the streaming text
// buffer for the live run. It never talks to the network; the reconciler
// feeds it gap-free, deduplicated events.
package runstate

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/user/streamsync/internal/domain"
)

// Tracker holds the derived state for one session.
type Tracker struct {
	mu        sync.Mutex
	sessionID string
	live      *domain.Run
	runs      []domain.Run
	buf       strings.Builder
	messages  []domain.Message
}

func NewTracker(sessionID string) *Tracker {
	return &Tracker{sessionID: sessionID}
}

// StartRun begins a new execution attempt. Any prior run loses live status:
// a non-terminal predecessor is marked superseded, its buffered text dropped.
func (t *Tracker) StartRun(runID string, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live != nil && t.live.RunID == runID {
		return
	}
	if t.live != nil {
		if !t.live.State.Terminal() {
			t.live.State = domain.RunSuperseded
		}
		t.runs = append(t.runs, *t.live)
		t.buf.Reset()
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	t.live = &domain.Run{RunID: runID, State: domain.RunStarted, StartedAt: startedAt}
}

// AppendStreaming adds flushed delta text to the live run's buffer. Text for
// a run that is not live is dropped; it raced against a newer run.
func (t *Tracker) AppendStreaming(runID, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live == nil || t.live.RunID != runID || t.live.State.Terminal() {
		return false
	}
	t.live.State = domain.RunStreaming
	t.buf.WriteString(text)
	return true
}

// EndRun finalizes the live run into a persisted assistant message. When the
// server omits content, the accumulated buffer is the message body. Returns
// the finalized message, or nil if the run was not live (stale or repeated
// terminal event).
func (t *Tracker) EndRun(runID, messageID, content string, ts time.Time) *domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live == nil || t.live.RunID != runID || t.live.State.Terminal() {
		return nil
	}
	if content == "" {
		content = t.buf.String()
	}
	t.buf.Reset()
	t.live.State = domain.RunEnded

	if messageID == "" {
		messageID = uuid.NewString()
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := domain.Message{
		ID:        messageID,
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: ts,
	}
	t.messages = append(t.messages, msg)
	return &msg
}

// CancelRun marks the live run cancelled and discards the in-flight buffer.
// A partial message is never persisted.
func (t *Tracker) CancelRun(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live == nil || t.live.RunID != runID || t.live.State.Terminal() {
		return false
	}
	t.live.State = domain.RunCancelled
	t.buf.Reset()
	return true
}

// FailRun marks the live run errored and discards the in-flight buffer.
func (t *Tracker) FailRun(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live == nil || t.live.RunID != runID || t.live.State.Terminal() {
		return false
	}
	t.live.State = domain.RunErrored
	t.buf.Reset()
	return true
}

// ResolveRun marks the live run ended without finalizing a message. Used
// when the reply was recovered out-of-band from the message history.
func (t *Tracker) ResolveRun(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live == nil || t.live.RunID != runID || t.live.State.Terminal() {
		return false
	}
	t.live.State = domain.RunEnded
	t.buf.Reset()
	return true
}

// AppendUser appends a locally-authored user message and returns it.
func (t *Tracker) AppendUser(content string, metadata map[string]string) domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	t.messages = append(t.messages, msg)
	return msg
}

// Supersede tags targetID as superseded and appends the replacement as a
// fresh user message. The old entry stays in the log as an audit record.
func (t *Tracker) Supersede(targetID, newID, content string) *domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].ID == targetID {
			t.messages[i].Superseded = true
			t.messages[i].SupersededBy = newID
		}
	}
	msg := domain.Message{
		ID:        newID,
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
	t.messages = append(t.messages, msg)
	return &msg
}

// ImportMessage appends a server-recovered message when it is not already in
// the log. Used by the stale-reply poll.
func (t *Tracker) ImportMessage(msg domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if lo.ContainsBy(t.messages, func(m domain.Message) bool { return m.ID == msg.ID }) {
		return false
	}
	t.messages = append(t.messages, msg)
	return true
}

// LiveRun returns a copy of the live run, or nil.
func (t *Tracker) LiveRun() *domain.Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live == nil {
		return nil
	}
	cp := *t.live
	return &cp
}

// StreamText returns the text buffered for the live run so far.
func (t *Tracker) StreamText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Messages returns a copy of the message log.
func (t *Tracker) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Message(nil), t.messages...)
}

// ActiveMessages returns the log without superseded entries.
func (t *Tracker) ActiveMessages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return lo.Filter(t.messages, func(m domain.Message, _ int) bool { return !m.Superseded })
}

// LastAssistantMessage returns the newest assistant message, or nil.
func (t *Tracker) LastAssistantMessage() *domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == domain.RoleAssistant {
			cp := t.messages[i]
			return &cp
		}
	}
	return nil
}
