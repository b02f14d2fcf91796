// SPDX-License-Identifier: MIT

// Package engine implements the synchronization core: the per-slot
// dual-layer state machine, the cross-slot sync operations and the periodic
// drift controller that keeps every looping playout phase-aligned to one
// logical clock.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/loopsync/internal/amcp"
	"github.com/ManuGH/loopsync/internal/config"
	"github.com/ManuGH/loopsync/internal/journal"
	xlog "github.com/ManuGH/loopsync/internal/log"
	"github.com/ManuGH/loopsync/internal/metrics"
	"github.com/ManuGH/loopsync/internal/timecode"
)

// Mode gates the drift controller. OFF and MANUAL behave identically on the
// server; the distinction is operator-facing.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// ParseMode validates an operator-supplied mode string.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeOff, ModeManual, ModeAuto:
		return Mode(s), true
	default:
		return "", false
	}
}

// Controller owns all mutable sync state: settings, mode, the clock epoch
// and every slot's layer pair. One mutex serializes control-plane access;
// it is never held across a wire exchange.
type Controller struct {
	logger  zerolog.Logger
	pool    *amcp.Pool
	journal *journal.Journal // optional; nil disables the event log
	nowFn   func() time.Time

	mu       sync.Mutex
	settings config.Settings
	mode     Mode
	t0       time.Time // zero until the first StartAll
	pairs    map[int]Pair
	states   map[int]SlotState
	samples  map[int]sample // last drift observation per slot

	tickBusy     atomic.Bool
	droppedTicks atomic.Uint64

	subMu sync.Mutex
	subs  map[string]chan Status
}

// sample is one drift observation. ok=false means the slot's current frame
// could not be read or parsed on the last tick.
type sample struct {
	current int64
	drift   int64
	ok      bool
}

// New creates a controller around the given settings. jrnl may be nil.
func New(settings config.Settings, pool *amcp.Pool, jrnl *journal.Journal) *Controller {
	c := &Controller{
		logger:  xlog.WithComponent("engine"),
		pool:    pool,
		journal: jrnl,
		nowFn:   time.Now,
		mode:    ModeOff,
		pairs:   make(map[int]Pair),
		states:  make(map[int]SlotState),
		samples: make(map[int]sample),
		subs:    make(map[string]chan Status),
	}
	c.applyLocked(settings)
	return c
}

// Settings returns a copy of the current settings.
func (c *Controller) Settings() config.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Clone()
}

// Mode returns the current controller mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the controller mode. A resync already in flight runs to
// completion; the drift loop observes the new mode on its next tick.
func (c *Controller) SetMode(ctx context.Context, m Mode) {
	c.mu.Lock()
	old := c.mode
	c.mode = m
	c.mu.Unlock()
	if old != m {
		c.logger.Info().
			Str(xlog.FieldEvent, "engine.mode").
			Str(xlog.FieldOldState, string(old)).
			Str(xlog.FieldNewState, string(m)).
			Msg("mode changed")
		c.record(ctx, journal.Event{Kind: journal.KindMode, Detail: string(m)})
	}
	c.broadcast()
}

// ResetClock re-captures the clock epoch without touching any playout.
func (c *Controller) ResetClock(ctx context.Context) {
	c.mu.Lock()
	c.t0 = c.nowFn()
	c.mu.Unlock()
	c.logger.Info().Str(xlog.FieldEvent, "engine.clock_reset").Msg("clock epoch reset")
	c.record(ctx, journal.Event{Kind: journal.KindClock, Detail: "epoch reset"})
	c.broadcast()
}

// ApplySettings atomically replaces the authoritative settings. Pairs of
// slots whose base layer changed reset to canonical; connections no longer
// referenced by any effective slot are pruned.
func (c *Controller) ApplySettings(ctx context.Context, s config.Settings) {
	c.mu.Lock()
	c.applyLocked(s)
	c.mu.Unlock()
	c.record(ctx, journal.Event{Kind: journal.KindConfig, Detail: "settings replaced"})
	c.broadcast()
}

func (c *Controller) applyLocked(s config.Settings) {
	old := c.settings
	c.settings = s.Clone()

	oldBase := make(map[int]int, len(old.Slots))
	for _, slot := range old.Slots {
		oldBase[slot.ID] = slot.BaseLayer
	}

	live := make(map[int]struct{}, len(s.Slots))
	keep := make(map[string]struct{})
	effective := 0
	for _, slot := range s.Slots {
		live[slot.ID] = struct{}{}
		if prev, ok := oldBase[slot.ID]; !ok || prev != slot.BaseLayer {
			// New slot, or retimed base layer: any running playout is
			// assumed restarted by the operator.
			c.pairs[slot.ID] = canonicalPair(slot.BaseLayer)
			c.states[slot.ID] = SlotCold
			delete(c.samples, slot.ID)
		}
		if _, ok := c.pairs[slot.ID]; !ok {
			c.pairs[slot.ID] = canonicalPair(slot.BaseLayer)
			c.states[slot.ID] = SlotCold
		}
		if slot.Effective() {
			effective++
			keep[amcp.Addr(slot.Host, slot.Port)] = struct{}{}
		}
	}
	for id := range c.pairs {
		if _, ok := live[id]; !ok {
			delete(c.pairs, id)
			delete(c.states, id)
			delete(c.samples, id)
		}
	}
	metrics.EffectiveSlots.Set(float64(effective))
	c.pool.Prune(keep)
}

// Pair returns the current layer pair of a slot.
func (c *Controller) Pair(slotID int) (Pair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairs[slotID]
	return p, ok
}

// targetFrameBase computes the offset-free target frame at instant now.
// Per-slot timecode offsets are folded in at the point of use.
func (c *Controller) targetFrameBase(now time.Time) int64 {
	return timecode.TargetFrame(c.t0, now, c.settings.FPS, c.settings.Frames, 0)
}

// slotTarget folds a slot's start offset into the base target frame.
func slotTarget(base int64, slot config.Slot, s config.Settings) int64 {
	offset := timecode.Parse(slot.Timecode, s.FPS)
	if s.Frames <= 0 {
		return 0
	}
	return (base + offset) % s.Frames
}

// Subscribe registers a status listener. The channel receives a snapshot on
// every controller tick and after every state-changing operation; slow
// listeners miss snapshots rather than block the engine.
func (c *Controller) Subscribe() (string, <-chan Status) {
	id := uuid.New().String()
	ch := make(chan Status, 8)
	c.subMu.Lock()
	c.subs[id] = ch
	c.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	ch, ok := c.subs[id]
	delete(c.subs, id)
	c.subMu.Unlock()
	if ok {
		close(ch)
	}
}

func (c *Controller) broadcast() {
	st := c.Status()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (c *Controller) record(ctx context.Context, e journal.Event) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, e); err != nil {
		c.logger.Warn().Err(err).Str(xlog.FieldEvent, "engine.journal_failed").Msg("journal write failed")
	}
}
