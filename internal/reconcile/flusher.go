package reconcile

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Flusher coalesces high-frequency delta text into at most one downstream
// flush per interval. While a flush is pending, further deltas extend the
// buffer instead of scheduling more work, so sustained delta storms produce
// a bounded update rate with no text loss.
type Flusher struct {
	mu       sync.Mutex
	clk      clock.Clock
	interval time.Duration
	flush    func(runID, text string)

	runID   string
	buf     strings.Builder
	pending bool
	timer   *clock.Timer
}

func NewFlusher(clk clock.Clock, interval time.Duration, flush func(runID, text string)) *Flusher {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Flusher{clk: clk, interval: interval, flush: flush}
}

// Add buffers delta text for a run. Text buffered for a different run is
// flushed first so runs never interleave within one flush.
func (f *Flusher) Add(runID, text string) {
	f.mu.Lock()
	if f.runID != runID && f.buf.Len() > 0 {
		prevRun, prevText := f.takeLocked()
		f.mu.Unlock()
		f.flush(prevRun, prevText)
		f.mu.Lock()
	}
	f.runID = runID
	f.buf.WriteString(text)
	if !f.pending {
		f.pending = true
		f.timer = f.clk.AfterFunc(f.interval, f.fire)
	}
	f.mu.Unlock()
}

// Sync drains the buffer immediately. Called before terminal events so the
// finalized message sees every delta.
func (f *Flusher) Sync() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
	}
	runID, text := f.takeLocked()
	f.mu.Unlock()
	if text != "" {
		f.flush(runID, text)
	}
}

// Discard drops buffered text for runID without flushing. Buffered text for
// any other run is kept.
func (f *Flusher) Discard(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runID != runID {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.buf.Reset()
	f.pending = false
}

func (f *Flusher) fire() {
	f.mu.Lock()
	runID, text := f.takeLocked()
	f.mu.Unlock()
	if text != "" {
		f.flush(runID, text)
	}
}

// takeLocked empties the buffer and clears the pending flag.
func (f *Flusher) takeLocked() (string, string) {
	runID := f.runID
	text := f.buf.String()
	f.buf.Reset()
	f.pending = false
	return runID, text
}
