package runstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/streamsync/internal/domain"
)

func TestStreamingLifecycle(t *testing.T) {
	tr := NewTracker("sess-1")

	tr.StartRun("r1", time.Time{})
	run := tr.LiveRun()
	require.NotNil(t, run)
	assert.Equal(t, domain.RunStarted, run.State)

	require.True(t, tr.AppendStreaming("r1", "Hel"))
	require.True(t, tr.AppendStreaming("r1", "lo"))
	assert.Equal(t, "Hello", tr.StreamText())
	assert.Equal(t, domain.RunStreaming, tr.LiveRun().State)

	msg := tr.EndRun("r1", "", "", time.Time{})
	require.NotNil(t, msg)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, domain.RoleAssistant, msg.Role)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, domain.RunEnded, tr.LiveRun().State)
	assert.Empty(t, tr.StreamText())
}

func TestEndRunServerContentWins(t *testing.T) {
	tr := NewTracker("sess-1")
	tr.StartRun("r1", time.Time{})
	tr.AppendStreaming("r1", "partial")

	msg := tr.EndRun("r1", "m-9", "full text from server", time.Time{})
	require.NotNil(t, msg)
	assert.Equal(t, "m-9", msg.ID)
	assert.Equal(t, "full text from server", msg.Content)
}

func TestCancelDiscardsPartialMessage(t *testing.T) {
	tr := NewTracker("sess-1")
	tr.StartRun("r1", time.Time{})
	tr.AppendStreaming("r1", "half a thou")

	require.True(t, tr.CancelRun("r1"))
	assert.Equal(t, domain.RunCancelled, tr.LiveRun().State)
	assert.Empty(t, tr.StreamText())
	assert.Empty(t, tr.Messages(), "cancelled run must not persist a partial message")
}

func TestTerminalEventsRaceFirstOneWins(t *testing.T) {
	tr := NewTracker("sess-1")
	tr.StartRun("r1", time.Time{})
	tr.AppendStreaming("r1", "done")

	msg := tr.EndRun("r1", "", "", time.Time{})
	require.NotNil(t, msg)

	// The losing terminal event is a no-op.
	assert.False(t, tr.CancelRun("r1"))
	assert.Nil(t, tr.EndRun("r1", "", "", time.Time{}))
	assert.Equal(t, domain.RunEnded, tr.LiveRun().State)
	assert.Len(t, tr.Messages(), 1)
}

func TestStaleRunImmunity(t *testing.T) {
	tr := NewTracker("sess-1")
	tr.StartRun("r1", time.Time{})
	tr.AppendStreaming("r1", "live ")
	tr.StartRun("r2", time.Time{})

	// Stragglers from r1 must not touch r2's buffer or state.
	assert.False(t, tr.AppendStreaming("r1", "stale"))
	assert.False(t, tr.CancelRun("r1"))
	assert.Nil(t, tr.EndRun("r1", "", "", time.Time{}))

	require.True(t, tr.AppendStreaming("r2", "fresh"))
	assert.Equal(t, "fresh", tr.StreamText())
}

func TestStartRunSupersedesNonTerminalPredecessor(t *testing.T) {
	tr := NewTracker("sess-1")
	tr.StartRun("r1", time.Time{})
	tr.AppendStreaming("r1", "in flight")
	tr.StartRun("r2", time.Time{})

	assert.Equal(t, "r2", tr.LiveRun().RunID)
	assert.Empty(t, tr.StreamText())
}

func TestFailRunClearsBuffer(t *testing.T) {
	tr := NewTracker("sess-1")
	tr.StartRun("r1", time.Time{})
	tr.AppendStreaming("r1", "oops")

	require.True(t, tr.FailRun("r1"))
	assert.Equal(t, domain.RunErrored, tr.LiveRun().State)
	assert.Empty(t, tr.StreamText())
}

func TestSupersedeKeepsAuditTrail(t *testing.T) {
	tr := NewTracker("sess-1")
	original := tr.AppendUser("first draft", nil)

	replacement := tr.Supersede(original.ID, "m-new", "second draft")
	require.NotNil(t, replacement)
	assert.Equal(t, "second draft", replacement.Content)
	assert.Equal(t, domain.RoleUser, replacement.Role)

	all := tr.Messages()
	require.Len(t, all, 2)
	assert.True(t, all[0].Superseded)
	assert.Equal(t, "m-new", all[0].SupersededBy)
	assert.Equal(t, "first draft", all[0].Content, "superseded content is retained")

	active := tr.ActiveMessages()
	require.Len(t, active, 1)
	assert.Equal(t, "second draft", active[0].Content)
}

func TestImportMessageDedupesByID(t *testing.T) {
	tr := NewTracker("sess-1")
	msg := domain.Message{ID: "m1", Role: domain.RoleAssistant, Content: "recovered"}

	assert.True(t, tr.ImportMessage(msg))
	assert.False(t, tr.ImportMessage(msg))
	assert.Len(t, tr.Messages(), 1)
}

func TestLastAssistantMessage(t *testing.T) {
	tr := NewTracker("sess-1")
	assert.Nil(t, tr.LastAssistantMessage())

	tr.AppendUser("q", nil)
	tr.ImportMessage(domain.Message{ID: "a1", Role: domain.RoleAssistant, Content: "one"})
	tr.ImportMessage(domain.Message{ID: "a2", Role: domain.RoleAssistant, Content: "two"})

	last := tr.LastAssistantMessage()
	require.NotNil(t, last)
	assert.Equal(t, "two", last.Content)
}

func TestStageTrackerForwardOnly(t *testing.T) {
	st := NewStageTracker()

	st.Apply(domain.Envelope{RunID: "r1", Type: domain.EventPlanCreated})
	_, stage := st.Current()
	assert.Equal(t, domain.StagePlanning, stage)

	st.Apply(domain.Envelope{RunID: "r1", Type: domain.EventPlanFrozen})
	_, stage = st.Current()
	assert.Equal(t, domain.StageWorking, stage)

	st.Apply(domain.Envelope{RunID: "r1", Type: domain.EventTestFailed})
	_, stage = st.Current()
	assert.Equal(t, domain.StageTesting, stage)

	// A late checklist event cannot move the pipeline backwards.
	st.Apply(domain.Envelope{RunID: "r1", Type: domain.EventChecklistUpsert})
	_, stage = st.Current()
	assert.Equal(t, domain.StageTesting, stage)

	st.Apply(domain.Envelope{RunID: "r1", Type: domain.EventMsgEnd})
	_, stage = st.Current()
	assert.Equal(t, domain.StageComplete, stage)
}

func TestStageTrackerNewRunResets(t *testing.T) {
	st := NewStageTracker()
	st.Apply(domain.Envelope{RunID: "r1", Type: domain.EventTestPassed})

	st.Apply(domain.Envelope{RunID: "r2", Type: domain.EventChecklistUpsert})
	runID, stage := st.Current()
	assert.Equal(t, "r2", runID)
	assert.Equal(t, domain.StagePlanning, stage)
}

func TestStageTrackerIgnoresNonStageEvents(t *testing.T) {
	st := NewStageTracker()
	st.Apply(domain.Envelope{RunID: "r1", Type: domain.EventMsgDelta})
	runID, stage := st.Current()
	assert.Empty(t, runID)
	assert.Equal(t, domain.StageDiscussion, stage)
}
