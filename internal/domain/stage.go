package domain

// Stage is the coarse pipeline position of a coding run. It is derived from
// stage events on the same stream as the run lifecycle but tracked by an
// independent machine, joined only by run_id.
type Stage string

const (
	StageDiscussion Stage = "discussion"
	StagePlanning   Stage = "planning"
	StageWorking    Stage = "working"
	StageTesting    Stage = "testing"
	StageComplete   Stage = "complete"
)

// rank orders stages for forward-only advancement.
var stageRank = map[Stage]int{
	StageDiscussion: 0,
	StagePlanning:   1,
	StageWorking:    2,
	StageTesting:    3,
	StageComplete:   4,
}

// After reports whether s is strictly later in the pipeline than other.
func (s Stage) After(other Stage) bool {
	return stageRank[s] > stageRank[other]
}
