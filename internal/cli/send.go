package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/user/streamsync/internal/domain"
	"github.com/user/streamsync/internal/output"
	"github.com/user/streamsync/internal/reconcile"
)

// SendCmd sends one message and streams the reply until the run reaches a
// terminal state.
type SendCmd struct {
	Session string   `short:"S" required:"" help:"Session id"`
	Text    []string `arg:"" help:"Message text"`
	Wait    string   `default:"5m" help:"Maximum time to wait for the reply"`
}

// Run executes the send command
func (c *SendCmd) Run(globals *Globals) error {
	text := strings.TrimSpace(strings.Join(c.Text, " "))
	if text == "" {
		return outputErrorCommon(globals, "EMPTY_MESSAGE", "message text is required")
	}
	wait, err := time.ParseDuration(c.Wait)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_WAIT", "invalid wait duration: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
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

	synced := make(chan struct{}, 1)
	done := make(chan error, 1)

	hooks := streamHooks{
		onApply: func(env domain.Envelope) {
			if ndjson {
				writer.WriteEnvelope(env)
			}
			if env.Type.Terminal() {
				select {
				case done <- nil:
				default:
				}
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
			switch a.Kind {
			case reconcile.AdvisoryResumed:
				select {
				case synced <- struct{}{}:
				default:
				}
			case reconcile.AdvisoryStuck, reconcile.AdvisoryRunError, reconcile.AdvisoryCommandFailed:
				if ndjson {
					writer.WriteAdvisory(a)
				} else {
					view.Advisory(a)
				}
				select {
				case done <- errFromAdvisory(a):
				default:
				}
			case reconcile.AdvisoryRecovered:
				if ndjson {
					writer.WriteAdvisory(a)
				} else {
					view.Advisory(a)
				}
				select {
				case done <- nil:
				default:
				}
			default:
				if ndjson {
					writer.WriteAdvisory(a)
				} else {
					view.Advisory(a)
				}
			}
		},
		onState: func(s domain.ConnState) {
			if s == domain.ConnError {
				select {
				case done <- errConnLost:
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
		return outputErrorCommon(globals, "SYNC_TIMEOUT", "could not sync session before sending")
	}

	if _, err := st.rec.SendMessage(text, nil); err != nil {
		return outputErrorCommon(globals, "SEND_FAILED", err.Error(), "check connection state and retry")
	}

	select {
	case err := <-done:
		if err != nil {
			return outputErrorCommon(globals, "RUN_FAILED", err.Error())
		}
		if !ndjson {
			view.StreamText("\n")
		} else if last := st.rec.Tracker().LastAssistantMessage(); last != nil {
			writer.WriteMessage(*last)
		}
		return nil
	case <-ctx.Done():
		return outputErrorCommon(globals, "REPLY_TIMEOUT", "no reply within "+c.Wait)
	}
}
