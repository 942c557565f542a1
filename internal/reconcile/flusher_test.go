package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecord struct {
	runID string
	text  string
}

type flushCapture struct {
	mu      sync.Mutex
	flushes []flushRecord
}

func (c *flushCapture) flush(runID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes = append(c.flushes, flushRecord{runID, text})
}

func (c *flushCapture) all() []flushRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]flushRecord(nil), c.flushes...)
}

func TestFlusherCoalescesIntoSingleFlush(t *testing.T) {
	clk := clock.NewMock()
	cap := &flushCapture{}
	f := NewFlusher(clk, 50*time.Millisecond, cap.flush)

	f.Add("r1", "a")
	f.Add("r1", "b")
	f.Add("r1", "c")
	assert.Empty(t, cap.all(), "nothing flushes before the interval elapses")

	clk.Add(50 * time.Millisecond)
	flushes := cap.all()
	require.Len(t, flushes, 1, "one pending flush at a time")
	assert.Equal(t, flushRecord{"r1", "abc"}, flushes[0])
}

func TestFlusherSustainedRateNoTextLoss(t *testing.T) {
	clk := clock.NewMock()
	cap := &flushCapture{}
	f := NewFlusher(clk, 50*time.Millisecond, cap.flush)

	var want string
	for i := 0; i < 40; i++ {
		chunk := string(rune('a' + i%26))
		want += chunk
		f.Add("r1", chunk)
		clk.Add(10 * time.Millisecond)
	}
	f.Sync()

	var got string
	for _, fl := range cap.all() {
		got += fl.text
	}
	assert.Equal(t, want, got, "every delta flushed exactly once")
}

func TestFlusherSyncDrainsImmediately(t *testing.T) {
	clk := clock.NewMock()
	cap := &flushCapture{}
	f := NewFlusher(clk, 50*time.Millisecond, cap.flush)

	f.Add("r1", "tail")
	f.Sync()
	flushes := cap.all()
	require.Len(t, flushes, 1)
	assert.Equal(t, "tail", flushes[0].text)

	// Timer firing later must not double-flush.
	clk.Add(time.Second)
	assert.Len(t, cap.all(), 1)
}

func TestFlusherDiscardDropsBufferedText(t *testing.T) {
	clk := clock.NewMock()
	cap := &flushCapture{}
	f := NewFlusher(clk, 50*time.Millisecond, cap.flush)

	f.Add("r1", "cancelled text")
	f.Discard("r1")
	clk.Add(time.Second)
	assert.Empty(t, cap.all())

	// Discard for a different run leaves the buffer alone.
	f.Add("r2", "kept")
	f.Discard("r1")
	f.Sync()
	flushes := cap.all()
	require.Len(t, flushes, 1)
	assert.Equal(t, flushRecord{"r2", "kept"}, flushes[0])
}

func TestFlusherRunBoundaryFlushesFirst(t *testing.T) {
	clk := clock.NewMock()
	cap := &flushCapture{}
	f := NewFlusher(clk, 50*time.Millisecond, cap.flush)

	f.Add("r1", "old run text")
	f.Add("r2", "new run text")
	f.Sync()

	flushes := cap.all()
	require.Len(t, flushes, 2)
	assert.Equal(t, flushRecord{"r1", "old run text"}, flushes[0])
	assert.Equal(t, flushRecord{"r2", "new run text"}, flushes[1])
}

func TestFlusherEmptySyncIsNoOp(t *testing.T) {
	clk := clock.NewMock()
	cap := &flushCapture{}
	f := NewFlusher(clk, 50*time.Millisecond, cap.flush)

	f.Sync()
	assert.Empty(t, cap.all())
}
