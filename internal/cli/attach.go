package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/streamsync/internal/domain"
	"github.com/user/streamsync/internal/output"
	"github.com/user/streamsync/internal/reconcile"
)

// AttachCmd attaches to a session and streams normalized events until
// interrupted.
type AttachCmd struct {
	Session string `short:"S" required:"" help:"Session id to attach to"`
	Replay  bool   `help:"Also emit the replayed message log after sync" default:"true" negatable:""`
}

// Run executes the attach command
func (c *AttachCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ndjson := globals.Format == "ndjson"
	writer := output.NewNDJSONWriter(globals.Stdout)
	view := newTextView(globals)
	synced := make(chan reconcile.Advisory, 1)

	hooks := streamHooks{
		onApply: func(env domain.Envelope) {
			if ndjson {
				writer.WriteEnvelope(env)
			}
		},
		onFlush: func(runID, text string) {
			if ndjson {
				writer.WriteFlush(runID, text)
			} else {
				view.StreamText(text)
			}
		},
		onAdvisory: func(a reconcile.Advisory) {
			if a.Kind == reconcile.AdvisoryResumed {
				select {
				case synced <- a:
				default:
				}
			}
			if ndjson {
				writer.WriteAdvisory(a)
			} else {
				view.Advisory(a)
			}
		},
		onState: func(s domain.ConnState) {
			if ndjson {
				writer.WriteConnState(s)
			} else {
				view.ConnState(s)
			}
			if s == domain.ConnError {
				cancel()
			}
		},
	}

	st, err := buildStack(globals, c.Session, hooks)
	if err != nil {
		return outputErrorCommon(globals, "SETUP_FAILED", err.Error())
	}

	st.conn.Connect(c.Session)
	defer st.conn.Close()

	// Announce once the first sync lands; replayed history is already in
	// the tracker by then.
	select {
	case a := <-synced:
		if ndjson {
			cur, _ := st.store.Load(c.Session)
			var lastSeq int64
			if cur != nil {
				lastSeq = cur.LastSeq
			}
			writer.WriteReady(c.Session, a.RunID, lastSeq)
			if c.Replay {
				for _, msg := range st.rec.Tracker().Messages() {
					writer.WriteMessage(msg)
				}
			}
		} else if !globals.Quiet {
			fmt.Fprintf(globals.Stderr, "Attached to %s (replayed %d events)\n", c.Session, a.Replayed)
			if c.Replay {
				for _, msg := range st.rec.Tracker().Messages() {
					view.Message(msg)
				}
			}
		}
	case <-ctx.Done():
		return nil
	}

	<-ctx.Done()
	return nil
}
