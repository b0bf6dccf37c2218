package orchestrator

import (
	"sort"

	"github.com/papercomputeco/spool/pkg/llm"
)

// Accumulator merges fragmented tool-call deltas into complete calls. One
// wire family splits a call's id, name, and arguments across many fragments
// sharing an index; another delivers whole calls in one fragment. Both feed
// the same path: id and name are fixed by their first non-empty occurrence,
// argument fragments concatenate strictly in arrival order.
type Accumulator struct {
	calls map[int]*llm.ToolCall
}

// NewAccumulator creates an empty accumulator for one round.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]*llm.ToolCall)}
}

// Add merges one fragment into the call at its index.
func (a *Accumulator) Add(frag llm.ToolCallFragment) {
	call, ok := a.calls[frag.Index]
	if !ok {
		call = &llm.ToolCall{}
		a.calls[frag.Index] = call
	}

	if call.ID == "" {
		call.ID = frag.ID
	}
	if call.Name == "" {
		call.Name = frag.Name
	}
	call.Arguments += frag.Arguments
}

// Len reports how many calls are in progress.
func (a *Accumulator) Len() int {
	return len(a.calls)
}

// Completed returns the accumulated calls ordered by ascending index.
func (a *Accumulator) Completed() []llm.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]llm.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.calls[i])
	}
	return out
}
