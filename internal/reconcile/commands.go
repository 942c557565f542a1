package reconcile

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/user/streamsync/internal/domain"
)

// ErrNotDelivered is returned when the duplex channel refused a frame. The
// action did not reach the server; callers surface this, never retry blindly.
var ErrNotDelivered = errors.New("channel not open, command not delivered")

// SendMessage submits user text to the session and arms the reply watchdog.
// The message is appended to the local log only after the frame is accepted
// by the channel.
func (r *Reconciler) SendMessage(text string, metadata map[string]string) (*domain.Message, error) {
	frame := domain.Frame{
		Kind:      domain.FrameMessageSend,
		SessionID: r.opts.SessionID,
		Text:      text,
		Metadata:  metadata,
	}
	if !r.opts.Sender.Send(frame) {
		return nil, ErrNotDelivered
	}
	msg := r.tracker.AppendUser(text, metadata)

	r.mu.Lock()
	r.armWatchdogLocked(r.currentRun)
	r.mu.Unlock()
	return &msg, nil
}

// Stop requests cancellation of the live run. Cancellation is cooperative:
// the server may reject it, ignore it, or the run may end naturally first;
// whichever terminal event arrives first wins and the loser is a no-op.
func (r *Reconciler) Stop(reason string) (string, error) {
	live := r.tracker.LiveRun()
	if !live.Live() {
		return "", errors.New("no live run to stop")
	}

	cmd := domain.PendingCommand{
		CommandID: uuid.NewString(),
		Kind:      domain.CommandStop,
		IssuedAt:  r.clk.Now(),
	}
	r.registerPending(cmd)

	ok := r.opts.Sender.Send(domain.Frame{
		Kind:      domain.FrameStop,
		SessionID: r.opts.SessionID,
		RunID:     live.RunID,
		CommandID: cmd.CommandID,
		Reason:    reason,
	})
	if !ok {
		r.unregisterPending(cmd.CommandID)
		return "", ErrNotDelivered
	}
	return cmd.CommandID, nil
}

// EditResend supersedes an earlier user message with new content. The new
// content is held in the pending table; the server's message.superseded
// event only carries ids, and the reconciler recovers the text from here.
func (r *Reconciler) EditResend(targetMessageID, newContent, reason string, metadata map[string]string) (string, error) {
	if targetMessageID == "" {
		return "", errors.New("target message id is required")
	}
	cmd := domain.PendingCommand{
		CommandID:       uuid.NewString(),
		Kind:            domain.CommandEditResend,
		IssuedAt:        r.clk.Now(),
		TargetMessageID: targetMessageID,
		NewContent:      newContent,
	}
	r.registerPending(cmd)

	ok := r.opts.Sender.Send(domain.Frame{
		Kind:      domain.FrameEditResend,
		SessionID: r.opts.SessionID,
		CommandID: cmd.CommandID,
		TargetID:  targetMessageID,
		Text:      newContent,
		Reason:    reason,
		Metadata:  metadata,
	})
	if !ok {
		r.unregisterPending(cmd.CommandID)
		return "", ErrNotDelivered
	}
	return cmd.CommandID, nil
}

// PendingCommands returns a snapshot of commands awaiting acknowledgement.
func (r *Reconciler) PendingCommands() []domain.PendingCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PendingCommand, 0, len(r.pending))
	for _, cmd := range r.pending {
		out = append(out, cmd)
	}
	return out
}

// registerPending adds the command and arms its expiry. A command with no
// matching ack or effect inside the timeout is dropped with a visible
// failure rather than left dangling.
func (r *Reconciler) registerPending(cmd domain.PendingCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[cmd.CommandID] = cmd
	id := cmd.CommandID
	r.pendingTimers[id] = r.clk.AfterFunc(r.opts.CommandTimeout, func() {
		r.expireCommand(id)
	})
}

func (r *Reconciler) unregisterPending(commandID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePendingLocked(commandID)
}

func (r *Reconciler) expireCommand(commandID string) {
	r.mu.Lock()
	cmd, ok := r.pending[commandID]
	if ok {
		r.removePendingLocked(commandID)
	}
	r.mu.Unlock()

	if ok {
		r.advise(Advisory{
			Kind:      AdvisoryCommandFailed,
			CommandID: commandID,
			Message:   fmt.Sprintf("%s command timed out without acknowledgement", cmd.Kind),
		})
	}
}
