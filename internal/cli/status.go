package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/streamsync/internal/cursor"
	"github.com/user/streamsync/internal/history"
)

// StatusCmd reports the server's authoritative run position next to the
// local cursor, without attaching to the stream.
type StatusCmd struct {
	Session string `short:"S" required:"" help:"Session id"`
}

// Run executes the status command
func (c *StatusCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hist := history.NewClient(globals.Config.Server.BaseURL, parseDuration(globals.Config.Server.HTTPTimeout, 10*time.Second))
	snap, err := hist.LatestRun(ctx, c.Session)
	if err != nil {
		return outputErrorCommon(globals, "SNAPSHOT_FAILED", err.Error(), "is the server reachable?")
	}

	var local *cursor.Cursor
	if root, err := cursor.DefaultRoot(); err == nil {
		local, _ = cursor.NewFileStore(root).Load(c.Session)
	}

	if globals.Format == "ndjson" {
		line := map[string]any{
			"type":          "status",
			"schemaVersion": 1,
			"session_id":    c.Session,
		}
		if run := snap.AuthoritativeRun(); run != nil {
			line["run_id"] = run.RunID
			line["run_state"] = string(run.State)
			line["server_last_seq"] = run.LastSeq
			line["active"] = snap.ActiveRun != nil
		}
		if local != nil {
			line["cursor_run_id"] = local.RunID
			line["cursor_last_seq"] = local.LastSeq
		}
		return json.NewEncoder(globals.Stdout).Encode(line)
	}

	run := snap.AuthoritativeRun()
	if run == nil {
		fmt.Fprintf(globals.Stdout, "Session %s: no runs yet\n", c.Session)
	} else {
		activity := "finished"
		if snap.ActiveRun != nil {
			activity = "active"
		}
		fmt.Fprintf(globals.Stdout, "Session %s: run %s (%s, %s), server last seq %d\n",
			c.Session, run.RunID, run.State, activity, run.LastSeq)
	}
	if local == nil {
		fmt.Fprintln(globals.Stdout, "Local cursor: none (first load will replay everything)")
	} else {
		fmt.Fprintf(globals.Stdout, "Local cursor: run %s, last seq %d\n", local.RunID, local.LastSeq)
		if run != nil && local.RunID == run.RunID && local.LastSeq < run.LastSeq {
			fmt.Fprintf(globals.Stdout, "Behind by %d events; next attach will replay them\n", run.LastSeq-local.LastSeq)
		}
	}
	return nil
}
