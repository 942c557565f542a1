// Package history talks to the HTTP replay/snapshot API. It is used on every
// (re)connect to discover the authoritative run position, to gap-fill events
// the duplex channel missed, and by the reply watchdog to check whether a run
// completed out-of-band.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/streamsync/internal/domain"
)

// RunInfo is the server's authoritative view of one run.
type RunInfo struct {
	RunID   string          `json:"run_id"`
	State   domain.RunState `json:"state"`
	LastSeq int64           `json:"last_seq"`
}

// Snapshot is the response of the latest-run call.
type Snapshot struct {
	ActiveRun     *RunInfo        `json:"active_run,omitempty"`
	LatestRun     *RunInfo        `json:"latest_run,omitempty"`
	SnapshotState json.RawMessage `json:"snapshot_state,omitempty"`
}

// AuthoritativeRun returns the run the client should reconcile against: the
// active run when one exists, otherwise the latest finished one.
func (s *Snapshot) AuthoritativeRun() *RunInfo {
	if s == nil {
		return nil
	}
	if s.ActiveRun != nil {
		return s.ActiveRun
	}
	return s.LatestRun
}

// Client is a thin JSON client over the replay/snapshot endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// LatestRun fetches the authoritative run snapshot for a session.
func (c *Client) LatestRun(ctx context.Context, sessionID string) (*Snapshot, error) {
	var snap Snapshot
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/latest-run"
	if err := c.get(ctx, path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Events fetches all envelopes with seq > afterSeq for a run, sorted by seq.
// The server already returns them ordered; sorting again keeps the contract
// even against a sloppy backend.
func (c *Client) Events(ctx context.Context, sessionID, runID string, afterSeq int64) ([]domain.Envelope, error) {
	var body struct {
		Events []domain.Envelope `json:"events"`
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/runs/" + url.PathEscape(runID) +
		"/events?after_seq=" + strconv.FormatInt(afterSeq, 10)
	if err := c.get(ctx, path, &body); err != nil {
		return nil, err
	}
	sort.SliceStable(body.Events, func(i, j int) bool {
		return body.Events[i].Seq < body.Events[j].Seq
	})
	return body.Events, nil
}

// Messages fetches the session's persisted message log. Used by the stale
// reply watchdog to detect runs that completed while events were missed.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.get(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}
