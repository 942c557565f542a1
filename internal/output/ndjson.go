// Package output emits machine-readable NDJSON for agents and scripts
// observing a session stream. Every line carries a type tag and a schema
// version so consumers can route and evolve safely.
package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/user/streamsync/internal/domain"
	"github.com/user/streamsync/internal/reconcile"
)

const schemaVersion = 1

// NDJSONWriter serializes one JSON object per line. Safe for concurrent use;
// the transport read loop and timers may emit interleaved.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

func (w *NDJSONWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// WriteReady announces a successfully attached session.
func (w *NDJSONWriter) WriteReady(sessionID, runID string, lastSeq int64) error {
	return w.write(map[string]any{
		"type":          "ready",
		"schemaVersion": schemaVersion,
		"session_id":    sessionID,
		"run_id":        runID,
		"last_seq":      lastSeq,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// WriteEnvelope emits a normalized applied event.
func (w *NDJSONWriter) WriteEnvelope(env domain.Envelope) error {
	line := map[string]any{
		"type":          "event",
		"schemaVersion": schemaVersion,
		"event_type":    string(env.Type),
		"session_id":    env.SessionID,
		"run_id":        env.RunID,
		"seq":           env.Seq,
	}
	if !env.TS.IsZero() {
		line["ts"] = env.TS.UTC().Format(time.RFC3339Nano)
	}
	if len(env.Payload) > 0 {
		line["payload"] = json.RawMessage(env.Payload)
	}
	if env.Stage != "" {
		line["stage"] = env.Stage
	}
	if env.TaskID != "" {
		line["task_id"] = env.TaskID
	}
	return w.write(line)
}

// WriteFlush emits a paced batch of streamed text.
func (w *NDJSONWriter) WriteFlush(runID, text string) error {
	return w.write(map[string]any{
		"type":          "stream_text",
		"schemaVersion": schemaVersion,
		"run_id":        runID,
		"text":          text,
	})
}

// WriteAdvisory emits a user-visible condition report.
func (w *NDJSONWriter) WriteAdvisory(a reconcile.Advisory) error {
	line := map[string]any{
		"type":          "advisory",
		"schemaVersion": schemaVersion,
		"kind":          string(a.Kind),
	}
	if a.RunID != "" {
		line["run_id"] = a.RunID
	}
	if a.CommandID != "" {
		line["command_id"] = a.CommandID
	}
	if a.Message != "" {
		line["message"] = a.Message
	}
	if a.Kind == reconcile.AdvisoryResumed {
		line["replayed"] = a.Replayed
	}
	return w.write(line)
}

// WriteConnState emits a connection state transition.
func (w *NDJSONWriter) WriteConnState(state domain.ConnState) error {
	return w.write(map[string]any{
		"type":          "conn_state",
		"schemaVersion": schemaVersion,
		"state":         string(state),
	})
}

// WriteMessage emits a finalized message from the derived log.
func (w *NDJSONWriter) WriteMessage(msg domain.Message) error {
	line := map[string]any{
		"type":          "message",
		"schemaVersion": schemaVersion,
		"id":            msg.ID,
		"role":          string(msg.Role),
		"content":       msg.Content,
	}
	if msg.Superseded {
		line["superseded"] = true
		line["superseded_by"] = msg.SupersededBy
	}
	if !msg.Timestamp.IsZero() {
		line["timestamp"] = msg.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return w.write(line)
}

// WriteError emits a machine-readable failure.
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	line := map[string]any{
		"type":          "error",
		"schemaVersion": schemaVersion,
		"code":          code,
		"message":       message,
	}
	if len(hint) > 0 && hint[0] != "" {
		line["hint"] = hint[0]
	}
	return w.write(line)
}
