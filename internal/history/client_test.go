package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/streamsync/internal/domain"
)

func TestLatestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions/sess-1/latest-run", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"active_run": map[string]any{"run_id": "r2", "state": "streaming", "last_seq": 9},
			"latest_run": map[string]any{"run_id": "r1", "state": "ended", "last_seq": 14},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	snap, err := c.LatestRun(context.Background(), "sess-1")
	require.NoError(t, err)

	run := snap.AuthoritativeRun()
	require.NotNil(t, run)
	assert.Equal(t, "r2", run.RunID)
	assert.EqualValues(t, 9, run.LastSeq)
}

func TestAuthoritativeRunFallsBackToLatest(t *testing.T) {
	snap := &Snapshot{LatestRun: &RunInfo{RunID: "r1", State: domain.RunEnded, LastSeq: 4}}
	run := snap.AuthoritativeRun()
	require.NotNil(t, run)
	assert.Equal(t, "r1", run.RunID)

	assert.Nil(t, (*Snapshot)(nil).AuthoritativeRun())
}

func TestEventsSortedAndFiltered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions/sess-1/runs/r1/events", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("after_seq"))
		// Out of order on purpose
		json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{
				{"session_id": "sess-1", "run_id": "r1", "seq": 5, "type": "message.end"},
				{"session_id": "sess-1", "run_id": "r1", "seq": 3, "type": "message.delta"},
				{"session_id": "sess-1", "run_id": "r1", "seq": 4, "type": "message.delta"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	events, err := c.Events(context.Background(), "sess-1", "r1", 2)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.EqualValues(t, 3, events[0].Seq)
	assert.EqualValues(t, 4, events[1].Seq)
	assert.EqualValues(t, 5, events[2].Seq)
}

func TestNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.LatestRun(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions/sess-1/messages", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"id": "m1", "role": "user", "content": "hi"},
				{"id": "m2", "role": "assistant", "content": "hello"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	msgs, err := c.Messages(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
}
