package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// DefaultFlushInterval is the minimum wall time between scheduled flushes
// while a stream is active.
const DefaultFlushInterval = 50 * time.Millisecond

// PublishFunc receives coalesced text. Either argument may be empty; a call
// always carries at least one non-empty channel.
type PublishFunc func(content, reasoning string)

// Flusher coalesces rapid text increments into periodic publications. It
// keeps two independent append-only buffers, one per channel, and publishes
// them no more often than the configured interval. Drain publishes whatever
// remains and is required exactly once at round end regardless of how the
// round exited; extra drains publish nothing.
type Flusher struct {
	mu        sync.Mutex
	interval  time.Duration
	publish   PublishFunc
	content   strings.Builder
	reasoning strings.Builder
	lastFlush time.Time
	now       func() time.Time
}

// NewFlusher creates a flusher publishing through fn. A non-positive
// interval publishes on every increment.
func NewFlusher(interval time.Duration, fn PublishFunc) *Flusher {
	return &Flusher{
		interval: interval,
		publish:  fn,
		now:      time.Now,
	}
}

// AppendContent buffers a content increment and flushes if the interval has
// elapsed.
func (f *Flusher) AppendContent(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.content.WriteString(text)
	f.maybeFlush()
}

// AppendReasoning buffers a reasoning increment and flushes if the interval
// has elapsed.
func (f *Flusher) AppendReasoning(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reasoning.WriteString(text)
	f.maybeFlush()
}

// Drain publishes all buffered text unconditionally.
func (f *Flusher) Drain() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.flush()
}

func (f *Flusher) maybeFlush() {
	now := f.now()
	if f.lastFlush.IsZero() {
		f.lastFlush = now
	}
	if f.interval > 0 && now.Sub(f.lastFlush) < f.interval {
		return
	}
	f.flush()
	f.lastFlush = now
}

// flush publishes and clears both buffers. Caller holds the lock.
func (f *Flusher) flush() {
	if f.content.Len() == 0 && f.reasoning.Len() == 0 {
		return
	}

	content := f.content.String()
	reasoning := f.reasoning.String()
	f.content.Reset()
	f.reasoning.Reset()

	f.publish(content, reasoning)
}
