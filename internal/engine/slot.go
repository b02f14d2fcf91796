// SPDX-License-Identifier: MIT
package engine

import (
	"fmt"
	"strings"
)

// layerOffset separates a slot's two playback planes on the remote engine.
const layerOffset = 10

// Pair is the dual-layer assignment of one slot: the visible active layer
// and the hidden standby used to arm resyncs. After every successful resync
// the roles swap; the unordered set is always {base, base+layerOffset}.
type Pair struct {
	Active  int
	Standby int
}

// canonicalPair is the assignment a slot starts with and returns to whenever
// its base layer changes or the playout is restarted.
func canonicalPair(baseLayer int) Pair {
	return Pair{Active: baseLayer, Standby: baseLayer + layerOffset}
}

// swapped returns the pair with roles exchanged.
func (p Pair) swapped() Pair {
	return Pair{Active: p.Standby, Standby: p.Active}
}

// SlotState is the playout lifecycle of one slot.
type SlotState string

const (
	SlotCold      SlotState = "cold"
	SlotPreloaded SlotState = "preloaded"
	SlotPlaying   SlotState = "playing"
	SlotPaused    SlotState = "paused"
)

// SlotError attributes an operation failure to one slot.
type SlotError struct {
	Slot int   // slot id
	Err  error
}

// AggregateError collects per-slot failures of one sync operation. The
// operation succeeded for every slot not listed.
type AggregateError struct {
	Op       string
	Failures []SlotError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("slot %d: %v", f.Slot, f.Err))
	}
	return fmt.Sprintf("%s: %d slot(s) failed: %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

// errOrNil folds an empty failure list into success.
func (e *AggregateError) errOrNil() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}
