package domain

import "time"

// RunState is the lifecycle state of one execution attempt within a session.
type RunState string

const (
	RunStarted    RunState = "started"
	RunStreaming  RunState = "streaming"
	RunEnded      RunState = "ended"
	RunCancelled  RunState = "cancelled"
	RunSuperseded RunState = "superseded"
	RunErrored    RunState = "error"
)

// Terminal reports whether the run can accept further deltas.
func (s RunState) Terminal() bool {
	switch s {
	case RunEnded, RunCancelled, RunSuperseded, RunErrored:
		return true
	}
	return false
}

// Run is one execution attempt. At most one run per session is live at any
// time; all others are terminal.
type Run struct {
	RunID     string    `json:"run_id"`
	State     RunState  `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Live reports whether the run can still receive streaming events.
func (r *Run) Live() bool {
	return r != nil && !r.State.Terminal()
}
