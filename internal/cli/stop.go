package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/streamsync/internal/domain"
	"github.com/user/streamsync/internal/output"
	"github.com/user/streamsync/internal/reconcile"
)

var errConnLost = errors.New("connection lost and reconnect attempts exhausted")

func errFromAdvisory(a reconcile.Advisory) error {
	if a.Message != "" {
		return errors.New(a.Message)
	}
	return fmt.Errorf("run failed (%s)", a.Kind)
}

// StopCmd requests cancellation of the session's live run and waits for the
// outcome.
type StopCmd struct {
	Session string `short:"S" required:"" help:"Session id"`
	Reason  string `short:"r" default:"user requested stop" help:"Reason recorded with the stop"`
	Wait    string `default:"30s" help:"Maximum time to wait for the outcome"`
}

// Run executes the stop command
func (c *StopCmd) Run(globals *Globals) error {
	wait, err := time.ParseDuration(c.Wait)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_WAIT", "invalid wait duration: "+err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	ndjson := globals.Format == "ndjson"
	writer := output.NewNDJSONWriter(globals.Stdout)

	synced := make(chan struct{}, 1)
	outcome := make(chan error, 1)

	hooks := streamHooks{
		onApply: func(env domain.Envelope) {
			switch env.Type {
			case domain.EventMsgCancelled, domain.EventMsgEnd, domain.EventMsgError:
				select {
				case outcome <- nil:
				default:
				}
			}
		},
		onAdvisory: func(a reconcile.Advisory) {
			switch a.Kind {
			case reconcile.AdvisoryResumed:
				select {
				case synced <- struct{}{}:
				default:
				}
			case reconcile.AdvisoryCommandFailed:
				select {
				case outcome <- errFromAdvisory(a):
				default:
				}
			}
		},
		onState: func(s domain.ConnState) {
			if s == domain.ConnError {
				select {
				case outcome <- errConnLost:
				default:
				}
			}
		},
	}

	st, err := buildStack(globals, c.Session, hooks)
	if err != nil {
		return outputErrorCommon(globals, "SETUP_FAILED", err.Error())
	}
	st.conn.Connect(c.Session)
	defer st.conn.Close()

	select {
	case <-synced:
	case <-ctx.Done():
		return outputErrorCommon(globals, "SYNC_TIMEOUT", "could not sync session")
	}

	cmdID, err := st.rec.Stop(c.Reason)
	if err != nil {
		return outputErrorCommon(globals, "STOP_FAILED", err.Error())
	}

	select {
	case err := <-outcome:
		if err != nil {
			return outputErrorCommon(globals, "STOP_REJECTED", err.Error())
		}
		if ndjson {
			writer.WriteAdvisory(reconcile.Advisory{Kind: "stopped", CommandID: cmdID})
		} else if !globals.Quiet {
			fmt.Fprintln(globals.Stderr, "run stopped")
		}
		return nil
	case <-ctx.Done():
		return outputErrorCommon(globals, "STOP_TIMEOUT", "no stop outcome within "+c.Wait)
	}
}
