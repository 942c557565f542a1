package runstate

import (
	"sync"

	"github.com/user/streamsync/internal/domain"
)

// StageTracker follows the coarse pipeline position of a coding run. It is
// driven by the same event stream as the run lifecycle but is a separate
// machine, correlated only by run_id.
type StageTracker struct {
	mu    sync.Mutex
	runID string
	stage domain.Stage
}

func NewStageTracker() *StageTracker {
	return &StageTracker{stage: domain.StageDiscussion}
}

// Apply advances the stage from a stage-bearing event. A new run_id resets
// the pipeline to discussion; within a run the stage only moves forward, so
// a straggling checklist event cannot drag a testing run back to planning.
func (s *StageTracker) Apply(env domain.Envelope) {
	next, ok := stageFor(env.Type)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.RunID != s.runID {
		s.runID = env.RunID
		s.stage = domain.StageDiscussion
	}
	if next.After(s.stage) {
		s.stage = next
	}
}

// Reset puts the pipeline back to discussion for a new run.
func (s *StageTracker) Reset(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.stage = domain.StageDiscussion
}

// Current returns the run the tracker follows and its stage.
func (s *StageTracker) Current() (string, domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID, s.stage
}

func stageFor(t domain.EventType) (domain.Stage, bool) {
	switch t {
	case domain.EventChecklistUpsert, domain.EventPlanCreated:
		return domain.StagePlanning, true
	case domain.EventPlanFrozen:
		return domain.StageWorking, true
	case domain.EventTestPassed, domain.EventTestFailed:
		return domain.StageTesting, true
	case domain.EventMsgEnd:
		return domain.StageComplete, true
	}
	return "", false
}
