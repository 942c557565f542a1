// Package reconcile merges live transport events with HTTP-replayed history
// into a single gap-free, deduplicated stream, applies it to the derived
// state trackers, and advances the persisted cursor. It also owns the
// mid-stream command lifecycle (stop, edit-resend) and the stale-reply
// watchdog, so a dropped event can never leave the caller waiting forever.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/user/streamsync/internal/cursor"
	"github.com/user/streamsync/internal/domain"
	"github.com/user/streamsync/internal/history"
	"github.com/user/streamsync/internal/runstate"
)

// History is the slice of the replay/snapshot API the reconciler uses.
// *history.Client satisfies it.
type History interface {
	LatestRun(ctx context.Context, sessionID string) (*history.Snapshot, error)
	Events(ctx context.Context, sessionID, runID string, afterSeq int64) ([]domain.Envelope, error)
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// Sender is the outbound half of the duplex channel. A false result means
// the frame was not delivered.
type Sender interface {
	Send(domain.Frame) bool
}

// AdvisoryKind classifies out-of-band conditions surfaced to the caller.
type AdvisoryKind string

const (
	AdvisorySlow          AdvisoryKind = "slow"           // reply watchdog short window expired
	AdvisoryStuck         AdvisoryKind = "stuck"          // long window expired and poll found nothing
	AdvisoryRecovered     AdvisoryKind = "recovered"      // poll found the run completed out-of-band
	AdvisoryRunError      AdvisoryKind = "run_error"      // message.error received
	AdvisoryCommandFailed AdvisoryKind = "command_failed" // rejected ack or command timeout
	AdvisoryResumed       AdvisoryKind = "resumed"        // snapshot+replay finished
)

// Advisory is a user-visible condition report. No advisory path is silent:
// every failure mode ends in one of these or in an applied terminal event.
type Advisory struct {
	Kind      AdvisoryKind
	RunID     string
	CommandID string
	Message   string
	Replayed  int
}

// Options configures a Reconciler.
type Options struct {
	SessionID string
	Store     cursor.Store
	History   History
	Sender    Sender
	Clock     clock.Clock
	Logger    *zap.SugaredLogger

	FlushInterval  time.Duration
	SlowAfter      time.Duration
	StuckAfter     time.Duration
	CommandTimeout time.Duration

	// OnApply observes every applied envelope, in application order. It is
	// invoked synchronously and must not call back into the Reconciler.
	OnApply func(domain.Envelope)
	// OnAdvisory receives user-visible condition reports.
	OnAdvisory func(Advisory)
	// OnFlush observes paced delta flushes after they reach derived state.
	OnFlush func(runID, text string)
}

// Reconciler is safe for concurrent use; the transport read loop, timers and
// user commands may all call into it.
type Reconciler struct {
	mu   sync.Mutex
	opts Options
	clk  clock.Clock
	log  *zap.SugaredLogger

	tracker *runstate.Tracker
	stages  *runstate.StageTracker
	flusher *Flusher

	// lastApplied holds the highest applied seq per run. Presence in the map
	// is the "has applied anything" signal; seq origin is opaque.
	lastApplied map[string]int64
	currentRun  string
	synced      bool

	// Out-of-order live arrivals, waiting for the gap to close.
	stash   map[string]map[int64]domain.Envelope
	filling map[string]bool

	pending       map[string]domain.PendingCommand
	pendingTimers map[string]*clock.Timer

	slowTimer  *clock.Timer
	stuckTimer *clock.Timer
}

func New(opts Options) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.SlowAfter <= 0 {
		opts.SlowAfter = 4 * time.Second
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 2 * time.Minute
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	r := &Reconciler{
		opts:          opts,
		clk:           opts.Clock,
		log:           opts.Logger,
		tracker:       runstate.NewTracker(opts.SessionID),
		stages:        runstate.NewStageTracker(),
		lastApplied:   make(map[string]int64),
		stash:         make(map[string]map[int64]domain.Envelope),
		filling:       make(map[string]bool),
		pending:       make(map[string]domain.PendingCommand),
		pendingTimers: make(map[string]*clock.Timer),
	}
	r.flusher = NewFlusher(opts.Clock, opts.FlushInterval, r.flushText)
	return r
}

// Tracker exposes the derived message/run state for observers.
func (r *Reconciler) Tracker() *runstate.Tracker { return r.tracker }

// Stages exposes the pipeline stage tracker.
func (r *Reconciler) Stages() *runstate.StageTracker { return r.stages }

// flushText lands paced delta text in the derived state. Runs on the flush
// timer goroutine; it takes only the tracker's lock, never r.mu.
func (r *Reconciler) flushText(runID, text string) {
	if !r.tracker.AppendStreaming(runID, text) {
		r.log.Debugw("dropped flush for stale run", "run_id", runID, "bytes", len(text))
		return
	}
	if r.opts.OnFlush != nil {
		r.opts.OnFlush(runID, text)
	}
}

// Sync reconciles against the server's authoritative position: snapshot,
// then ordered replay of everything past the cursor, before live events are
// trusted. The first sync of a process instance always replays from the
// beginning so no history is missing; later syncs start from
// min(local cursor, server last seq) to survive a stale local cursor.
func (r *Reconciler) Sync(ctx context.Context) error {
	snap, err := r.opts.History.LatestRun(ctx, r.opts.SessionID)
	if err != nil {
		return err
	}
	run := snap.AuthoritativeRun()
	if run == nil {
		r.mu.Lock()
		r.synced = true
		r.mu.Unlock()
		r.advise(Advisory{Kind: AdvisoryResumed})
		return nil
	}

	var local *cursor.Cursor
	if r.opts.Store != nil {
		if local, err = r.opts.Store.Load(r.opts.SessionID); err != nil {
			r.log.Debugw("cursor load failed, forcing full replay", "err", err)
			local = nil
		}
	}

	r.mu.Lock()
	afterSeq := int64(0)
	if r.synced && local != nil && local.RunID == run.RunID {
		afterSeq = min(local.LastSeq, run.LastSeq)
	}
	if last, ok := r.lastApplied[run.RunID]; ok && last > afterSeq {
		afterSeq = last
	}
	r.currentRun = run.RunID
	r.mu.Unlock()

	events, err := r.opts.History.Events(ctx, r.opts.SessionID, run.RunID, afterSeq)
	if err != nil {
		return err
	}

	r.mu.Lock()
	applied := 0
	for _, env := range events {
		if r.applyLocked(env) {
			applied++
		}
	}
	r.drainStashLocked(run.RunID, false)
	r.synced = true
	r.mu.Unlock()

	r.advise(Advisory{Kind: AdvisoryResumed, RunID: run.RunID, Replayed: applied})
	return nil
}

// HandleEnvelope is the live-event entry point, fed by the transport read
// loop. Duplicates are dropped, out-of-order arrivals are stashed until the
// gap closes, and a detected gap kicks a replay fill.
func (r *Reconciler) HandleEnvelope(env domain.Envelope) {
	if env.SessionID != "" && env.SessionID != r.opts.SessionID {
		return
	}

	r.mu.Lock()
	last, known := r.lastApplied[env.RunID]
	if known && env.Seq <= last {
		// First-seen copy was authoritative; this is a redelivery.
		r.mu.Unlock()
		return
	}

	if !known {
		// Seq origin is opaque, so only a run-opening event is safe to apply
		// without history. Anything else is mid-stream: stash and gap-fill
		// from the start of the run.
		if env.Type == domain.EventRunStarted || env.Type == domain.EventMsgStart {
			r.applyLocked(env)
			r.drainStashLocked(env.RunID, true)
			r.mu.Unlock()
			return
		}
		r.stashLocked(env)
		fill := r.markFillingLocked(env.RunID)
		r.mu.Unlock()
		if fill {
			go r.fillGap(env.RunID, 0)
		}
		return
	}

	if env.Seq == last+1 {
		r.applyLocked(env)
		r.drainStashLocked(env.RunID, true)
		r.mu.Unlock()
		return
	}

	// Gap within a known run.
	r.stashLocked(env)
	fill := r.markFillingLocked(env.RunID)
	r.mu.Unlock()
	if fill {
		go r.fillGap(env.RunID, last)
	}
}

func (r *Reconciler) stashLocked(env domain.Envelope) {
	byRun := r.stash[env.RunID]
	if byRun == nil {
		byRun = make(map[int64]domain.Envelope)
		r.stash[env.RunID] = byRun
	}
	if _, ok := byRun[env.Seq]; !ok {
		byRun[env.Seq] = env
	}
}

func (r *Reconciler) markFillingLocked(runID string) bool {
	if r.filling[runID] {
		return false
	}
	r.filling[runID] = true
	return true
}

// fillGap fetches missed events over HTTP and applies them. After an
// authoritative replay the stash drains in relaxed mode: anything stashed is
// newer than what the server returned, so order by seq is enough.
func (r *Reconciler) fillGap(runID string, afterSeq int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	events, err := r.opts.History.Events(ctx, r.opts.SessionID, runID, afterSeq)

	r.mu.Lock()
	delete(r.filling, runID)
	if err != nil {
		r.mu.Unlock()
		r.log.Debugw("gap fill failed", "run_id", runID, "err", err)
		return
	}
	for _, env := range events {
		r.applyLocked(env)
	}
	r.drainStashLocked(runID, false)
	r.mu.Unlock()
}

// drainStashLocked applies stashed arrivals whose turn has come. In strict
// mode only a contiguous chain past lastApplied drains; relaxed mode (after
// a replay) applies everything newer in seq order.
func (r *Reconciler) drainStashLocked(runID string, strict bool) {
	byRun := r.stash[runID]
	if len(byRun) == 0 {
		return
	}
	seqs := make([]int64, 0, len(byRun))
	for seq := range byRun {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		last, ok := r.lastApplied[runID]
		if !ok {
			break
		}
		if seq <= last {
			delete(byRun, seq)
			continue
		}
		if strict && seq != last+1 {
			break
		}
		r.applyLocked(byRun[seq])
		delete(byRun, seq)
	}
	if len(byRun) == 0 {
		delete(r.stash, runID)
	}
}

// applyLocked applies one envelope to derived state, advances the cursor and
// notifies the observer. Returns false for duplicates. Unknown event types
// are ignored semantically but still advance the cursor; a foreign event
// type must not wedge replay.
func (r *Reconciler) applyLocked(env domain.Envelope) bool {
	if last, ok := r.lastApplied[env.RunID]; ok && env.Seq <= last {
		return false
	}

	switch env.Type {
	case domain.EventRunStarted, domain.EventMsgStart:
		r.currentRun = env.RunID
		r.tracker.StartRun(env.RunID, env.TS)
		r.armWatchdogLocked(env.RunID)

	case domain.EventMsgDelta:
		var p domain.DeltaPayload
		if err := env.DecodePayload(&p); err != nil {
			r.log.Debugw("bad delta payload", "run_id", env.RunID, "seq", env.Seq, "err", err)
		} else if p.Delta != "" {
			r.flusher.Add(env.RunID, p.Delta)
		}
		r.clearWatchdogLocked()

	case domain.EventMsgToolRes:
		r.clearWatchdogLocked()

	case domain.EventMsgEnd:
		r.flusher.Sync()
		var p domain.EndPayload
		if err := env.DecodePayload(&p); err != nil {
			r.log.Debugw("bad end payload", "run_id", env.RunID, "seq", env.Seq, "err", err)
		}
		r.tracker.EndRun(env.RunID, p.MessageID, p.Content, env.TS)
		r.stages.Apply(env)
		r.resolveStopsLocked()
		r.clearWatchdogLocked()

	case domain.EventMsgCancelled:
		r.flusher.Discard(env.RunID)
		r.tracker.CancelRun(env.RunID)
		r.resolveStopsLocked()
		r.clearWatchdogLocked()

	case domain.EventMsgError:
		r.flusher.Discard(env.RunID)
		var p domain.ErrorPayload
		if err := env.DecodePayload(&p); err != nil {
			p.Message = "run failed"
		}
		if r.tracker.FailRun(env.RunID) {
			r.adviseAsync(Advisory{Kind: AdvisoryRunError, RunID: env.RunID, Message: p.Message})
		}
		r.resolveStopsLocked()
		r.clearWatchdogLocked()

	case domain.EventMsgSupersede:
		var p domain.SupersededPayload
		if err := env.DecodePayload(&p); err != nil {
			r.log.Debugw("bad supersede payload", "run_id", env.RunID, "seq", env.Seq, "err", err)
			break
		}
		content := ""
		if cmd, ok := r.pending[p.ByCommandID]; ok {
			content = cmd.NewContent
			r.removePendingLocked(p.ByCommandID)
		} else {
			r.log.Debugw("supersede with no pending command", "command_id", p.ByCommandID)
		}
		r.tracker.Supersede(p.TargetMessageID, p.NewMessageID, content)
		// The old run is done; a fresh run is expected to start next.
		r.armWatchdogLocked(env.RunID)

	case domain.EventControlAck:
		var p domain.AckPayload
		if err := env.DecodePayload(&p); err != nil {
			r.log.Debugw("bad ack payload", "run_id", env.RunID, "seq", env.Seq, "err", err)
			break
		}
		if _, ok := r.pending[p.CommandID]; ok {
			r.removePendingLocked(p.CommandID)
			if p.Status == domain.AckRejected {
				msg := p.Reason
				if msg == "" {
					msg = "command rejected"
				}
				r.adviseAsync(Advisory{Kind: AdvisoryCommandFailed, CommandID: p.CommandID, RunID: env.RunID, Message: msg})
			}
		}

	case domain.EventChecklistUpsert, domain.EventPlanCreated, domain.EventPlanFrozen,
		domain.EventTestPassed, domain.EventTestFailed:
		r.stages.Apply(env)
		r.clearWatchdogLocked()

	case domain.EventResumeStatus:
		// Informational; surfaced through OnApply only.

	default:
		// Unknown event types are forward-compatible noise.
		r.log.Debugw("ignoring unknown event type", "type", env.Type, "seq", env.Seq)
	}

	r.lastApplied[env.RunID] = env.Seq
	r.persistCursorLocked(env.RunID, env.Seq)
	if r.opts.OnApply != nil {
		r.opts.OnApply(env)
	}
	return true
}

// persistCursorLocked advances the durable cursor. Only called after the
// event reached derived state, never speculatively.
func (r *Reconciler) persistCursorLocked(runID string, seq int64) {
	if r.opts.Store == nil {
		return
	}
	c := &cursor.Cursor{SessionID: r.opts.SessionID, RunID: runID, LastSeq: seq}
	if err := r.opts.Store.Save(c); err != nil {
		r.log.Debugw("cursor save failed", "run_id", runID, "seq", seq, "err", err)
	}
}

// resolveStopsLocked clears pending stop commands whose effect arrived as a
// message.cancelled instead of an explicit ack.
func (r *Reconciler) resolveStopsLocked() {
	for id, cmd := range r.pending {
		if cmd.Kind == domain.CommandStop {
			r.removePendingLocked(id)
		}
	}
}

func (r *Reconciler) removePendingLocked(commandID string) {
	delete(r.pending, commandID)
	if t, ok := r.pendingTimers[commandID]; ok {
		t.Stop()
		delete(r.pendingTimers, commandID)
	}
}

func (r *Reconciler) advise(a Advisory) {
	if r.opts.OnAdvisory != nil {
		r.opts.OnAdvisory(a)
	}
}

// adviseAsync delivers an advisory without holding r.mu across the callback.
func (r *Reconciler) adviseAsync(a Advisory) {
	if r.opts.OnAdvisory != nil {
		go r.opts.OnAdvisory(a)
	}
}
