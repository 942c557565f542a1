package reconcile

import (
	"context"
	"time"

	"github.com/user/streamsync/internal/domain"
)

// armWatchdogLocked starts the stale-reply timers: a short window raising a
// "slow" advisory and a long window that actively checks whether the run
// completed out-of-band. Re-arming restarts both.
func (r *Reconciler) armWatchdogLocked(runID string) {
	r.stopWatchdogLocked()
	r.slowTimer = r.clk.AfterFunc(r.opts.SlowAfter, func() {
		r.advise(Advisory{
			Kind:    AdvisorySlow,
			RunID:   runID,
			Message: "no reply activity yet, still waiting",
		})
	})
	r.stuckTimer = r.clk.AfterFunc(r.opts.StuckAfter, func() {
		r.recoverStuck(runID)
	})
}

// clearWatchdogLocked cancels both timers; called whenever stream activity
// proves the run is alive.
func (r *Reconciler) clearWatchdogLocked() {
	r.stopWatchdogLocked()
}

func (r *Reconciler) stopWatchdogLocked() {
	if r.slowTimer != nil {
		r.slowTimer.Stop()
		r.slowTimer = nil
	}
	if r.stuckTimer != nil {
		r.stuckTimer.Stop()
		r.stuckTimer = nil
	}
}

// recoverStuck runs when the long watchdog window expires with no stream
// activity. It polls the message history once: if the run completed while
// its events were missed, the result is imported and the run resolved;
// otherwise the run is failed and the condition surfaced. Either way the
// caller is never left waiting silently.
func (r *Reconciler) recoverStuck(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	msgs, err := r.opts.History.Messages(ctx, r.opts.SessionID)
	if err != nil {
		r.log.Debugw("stuck poll failed", "run_id", runID, "err", err)
		r.failStuck(runID, "no reply and history poll failed")
		return
	}

	recovered := false
	for _, m := range msgs {
		if m.Role == domain.RoleAssistant && r.tracker.ImportMessage(m) {
			recovered = true
		}
	}
	if recovered {
		r.tracker.ResolveRun(runID)
		r.advise(Advisory{
			Kind:    AdvisoryRecovered,
			RunID:   runID,
			Message: "reply recovered from message history",
		})
		return
	}
	r.failStuck(runID, "run produced no events and no reply was found")
}

func (r *Reconciler) failStuck(runID, msg string) {
	r.tracker.FailRun(runID)
	r.advise(Advisory{Kind: AdvisoryStuck, RunID: runID, Message: msg})
}
