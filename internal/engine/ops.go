// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/loopsync/internal/amcp"
	"github.com/ManuGH/loopsync/internal/config"
	"github.com/ManuGH/loopsync/internal/journal"
	xlog "github.com/ManuGH/loopsync/internal/log"
	"github.com/ManuGH/loopsync/internal/metrics"
	"github.com/ManuGH/loopsync/internal/timecode"
)

// connGroup is the unit of dispatch: all effective slots sharing one remote,
// in slot order. Batches for different groups go out in parallel; within a
// group everything is serial.
type connGroup struct {
	addr  string
	slots []config.Slot
}

func groupSlots(slots []config.Slot) []connGroup {
	var groups []connGroup
	index := make(map[string]int)
	for _, slot := range slots {
		addr := amcp.Addr(slot.Host, slot.Port)
		i, ok := index[addr]
		if !ok {
			i = len(groups)
			index[addr] = i
			groups = append(groups, connGroup{addr: addr})
		}
		groups[i].slots = append(groups[i].slots, slot)
	}
	return groups
}

// opPlan is the immutable snapshot an operation works from once the
// control-plane mutex has been released.
type opPlan struct {
	settings config.Settings
	slots    []config.Slot
	pairs    map[int]Pair
}

func (c *Controller) plan() opPlan {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := opPlan{
		settings: c.settings.Clone(),
		slots:    c.settings.Effective(),
		pairs:    make(map[int]Pair, len(c.pairs)),
	}
	for id, pair := range c.pairs {
		p.pairs[id] = pair
	}
	return p
}

// collector gathers per-slot failures across parallel group dispatches.
type collector struct {
	mu  sync.Mutex
	agg AggregateError
}

func newCollector(op string) *collector {
	return &collector{agg: AggregateError{Op: op}}
}

func (r *collector) fail(slotID int, err error) {
	r.mu.Lock()
	r.agg.Failures = append(r.agg.Failures, SlotError{Slot: slotID, Err: err})
	r.mu.Unlock()
}

func (r *collector) failGroup(g connGroup, err error) {
	for _, slot := range g.slots {
		r.fail(slot.ID, err)
	}
}

func (r *collector) failed(slotID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.agg.Failures {
		if f.Slot == slotID {
			return true
		}
	}
	return false
}

func (r *collector) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agg.errOrNil()
}

// PreloadAll loads every effective slot's clip on both layers at frame 0,
// paused, hidden, with only the active layer unmuted. Idempotent: repeating
// it converges to the same post-state.
func (c *Controller) PreloadAll(ctx context.Context) error {
	p := c.plan()
	if len(p.slots) == 0 {
		return nil
	}
	res := newCollector("preload")

	var g errgroup.Group
	for _, grp := range groupSlots(p.slots) {
		g.Go(func() error {
			var b amcp.Batch
			for _, slot := range grp.slots {
				pair := p.pairs[slot.ID]
				addPreload(&b, slot, pair.Active, true)
				addPreload(&b, slot, pair.Standby, false)
			}
			if _, err := c.pool.Get(grp.addr).Send(ctx, &b); err != nil {
				res.failGroup(grp, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, slot := range p.slots {
		if !res.failed(slot.ID) {
			c.states[slot.ID] = SlotPreloaded
		}
	}
	c.mu.Unlock()

	c.record(ctx, journal.Event{Kind: journal.KindPreload, Detail: "preloaded", Slots: len(p.slots)})
	c.broadcast()
	return res.err()
}

// addPreload emits the four-command load sequence for one layer at frame 0.
func addPreload(b *amcp.Batch, slot config.Slot, layer int, active bool) {
	volume := 0.0
	if active {
		volume = 1.0
	}
	b.Add(
		amcp.LoadBG(slot.Channel, layer, slot.Clip, 0, true),
		amcp.Pause(slot.Channel, layer),
		amcp.MixerOpacity(slot.Channel, layer, 0, 0),
		amcp.MixerVolume(slot.Channel, layer, volume, 0),
	)
}

// StartAll captures the clock epoch, resets every pair to canonical and
// starts every effective slot playing from its start timecode. The epoch is
// taken before any wire traffic so drift is measured against the instant of
// start, not the instant of the last command reply.
func (c *Controller) StartAll(ctx context.Context) error {
	c.mu.Lock()
	c.t0 = c.nowFn()
	for _, slot := range c.settings.Slots {
		c.pairs[slot.ID] = canonicalPair(slot.BaseLayer)
	}
	c.mu.Unlock()

	p := c.plan()
	if len(p.slots) == 0 {
		return nil
	}
	res := newCollector("start")

	var g errgroup.Group
	for _, grp := range groupSlots(p.slots) {
		g.Go(func() error {
			var b amcp.Batch
			for _, slot := range grp.slots {
				pair := p.pairs[slot.ID]
				startFrame := timecode.Parse(slot.Timecode, p.settings.FPS)
				addLoadAt(&b, slot, pair.Active, startFrame, true)
				addLoadAt(&b, slot, pair.Standby, startFrame, false)
				b.Add(
					amcp.Play(slot.Channel, pair.Active),
					amcp.MixerOpacity(slot.Channel, pair.Active, 1, 0),
				)
			}
			if _, err := c.pool.Get(grp.addr).Send(ctx, &b); err != nil {
				res.failGroup(grp, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, slot := range p.slots {
		if !res.failed(slot.ID) {
			c.states[slot.ID] = SlotPlaying
		}
	}
	c.mu.Unlock()

	c.logger.Info().
		Str(xlog.FieldEvent, "engine.start").
		Int("slots", len(p.slots)).
		Msg("playouts started, clock epoch captured")
	c.record(ctx, journal.Event{Kind: journal.KindStart, Detail: "clock started", Slots: len(p.slots)})
	c.broadcast()
	return res.err()
}

func addLoadAt(b *amcp.Batch, slot config.Slot, layer int, frame int64, active bool) {
	volume := 0.0
	if active {
		volume = 1.0
	}
	b.Add(
		amcp.LoadBG(slot.Channel, layer, slot.Clip, frame, true),
		amcp.Pause(slot.Channel, layer),
		amcp.MixerOpacity(slot.Channel, layer, 0, 0),
		amcp.MixerVolume(slot.Channel, layer, volume, 0),
	)
}

// PauseAll freezes both layers of every effective slot. The clock epoch is
// left untouched: a later resync snaps the playouts back onto the clock.
func (c *Controller) PauseAll(ctx context.Context) error {
	p := c.plan()
	if len(p.slots) == 0 {
		return nil
	}
	res := newCollector("pause")

	var g errgroup.Group
	for _, grp := range groupSlots(p.slots) {
		g.Go(func() error {
			var b amcp.Batch
			for _, slot := range grp.slots {
				pair := p.pairs[slot.ID]
				b.Add(
					amcp.Pause(slot.Channel, pair.Active),
					amcp.Pause(slot.Channel, pair.Standby),
				)
			}
			if _, err := c.pool.Get(grp.addr).Send(ctx, &b); err != nil {
				res.failGroup(grp, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, slot := range p.slots {
		if !res.failed(slot.ID) {
			c.states[slot.ID] = SlotPaused
		}
	}
	c.mu.Unlock()

	c.record(ctx, journal.Event{Kind: journal.KindPause, Detail: "paused", Slots: len(p.slots)})
	c.broadcast()
	return res.err()
}

// ResyncAll re-aligns every effective slot to the base target frame tf via a
// dual-layer swap. Phase one arms every standby layer on the target frame;
// phase two makes the armed layer visible (CUT or FADE) and parks the old
// one. The pair swaps only after both swap batches of a slot succeed; a
// failed arm leaves the slot exactly as it was, with a benign invisible
// standby parked on tf.
func (c *Controller) ResyncAll(ctx context.Context, mode string, tf int64, trigger string) error {
	mode, ok := config.NormalizeResyncMode(mode)
	if !ok {
		return fmt.Errorf("unknown resync mode %q", mode)
	}

	p := c.plan()
	if len(p.slots) == 0 {
		return nil
	}
	// Resync with nothing playing is a no-op, not an error.
	if !c.anyPlaying(p.slots) {
		return nil
	}

	res := newCollector("resync")
	groups := groupSlots(p.slots)

	// Phase 1: arm every standby, one batch per connection.
	var g errgroup.Group
	for _, grp := range groups {
		g.Go(func() error {
			var b amcp.Batch
			for _, slot := range grp.slots {
				pair := p.pairs[slot.ID]
				b.Add(
					amcp.LoadBG(slot.Channel, pair.Standby, slot.Clip, slotTarget(tf, slot, p.settings), true),
					amcp.Pause(slot.Channel, pair.Standby),
					amcp.MixerOpacity(slot.Channel, pair.Standby, 0, 0),
					amcp.MixerVolume(slot.Channel, pair.Standby, 0, 0),
				)
			}
			if _, err := c.pool.Get(grp.addr).Send(ctx, &b); err != nil {
				res.failGroup(grp, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Phase 2: swap, slots in index order within each connection.
	var swapMu sync.Mutex
	var swapped []int
	var g2 errgroup.Group
	for _, grp := range groups {
		g2.Go(func() error {
			conn := c.pool.Get(grp.addr)
			for _, slot := range grp.slots {
				if res.failed(slot.ID) {
					continue // arm failed; slot keeps its prior state
				}
				if err := ctx.Err(); err != nil {
					res.fail(slot.ID, err)
					continue
				}
				if err := c.swapSlot(ctx, conn, slot, p.pairs[slot.ID], mode, p.settings); err != nil {
					res.fail(slot.ID, err)
					continue
				}
				swapMu.Lock()
				swapped = append(swapped, slot.ID)
				swapMu.Unlock()
			}
			return nil
		})
	}
	_ = g2.Wait()

	c.mu.Lock()
	for _, id := range swapped {
		c.pairs[id] = c.pairs[id].swapped()
		c.states[id] = SlotPlaying
	}
	c.mu.Unlock()

	metrics.Resyncs.WithLabelValues(mode, trigger).Inc()
	c.logger.Info().
		Str(xlog.FieldEvent, "engine.resync").
		Str(xlog.FieldMode, mode).
		Str("trigger", trigger).
		Int64(xlog.FieldTargetFrame, tf).
		Int("swapped", len(swapped)).
		Int("failed", len(p.slots)-len(swapped)).
		Msg("resync completed")
	c.record(ctx, journal.Event{
		Kind:   journal.KindResync,
		Detail: fmt.Sprintf("%s via %s at frame %d", mode, trigger, tf),
		Slots:  len(swapped),
	})
	c.broadcast()
	return res.err()
}

// swapSlot runs the two-batch visibility transition for one slot. The PLAY
// and the mixer swap share one render-cycle-atomic envelope; the park of the
// old layer always rides a second envelope so the engine never pauses a
// layer in the same cycle that reveals its replacement.
func (c *Controller) swapSlot(ctx context.Context, conn *amcp.Conn, slot config.Slot, pair Pair, mode string, s config.Settings) error {
	fade := 0
	if mode == config.ResyncFade {
		fade = s.FadeFrames
	}

	var a amcp.Batch
	a.Add(
		amcp.Play(slot.Channel, pair.Standby),
		amcp.MixerOpacity(slot.Channel, pair.Standby, 1, fade),
		amcp.MixerVolume(slot.Channel, pair.Standby, 1, fade),
		amcp.MixerOpacity(slot.Channel, pair.Active, 0, fade),
		amcp.MixerVolume(slot.Channel, pair.Active, 0, fade),
	)
	if _, err := conn.Send(ctx, &a); err != nil {
		return err
	}

	if fade > 0 {
		if err := sleepCtx(ctx, postFadeDelay(s)); err != nil {
			return err
		}
	}

	var b amcp.Batch
	b.Add(amcp.Pause(slot.Channel, pair.Active))
	if _, err := conn.Send(ctx, &b); err != nil {
		return err
	}
	return nil
}

// postFadeDelay resolves the configured park delay; a negative setting
// selects one fade length, rounded up to the millisecond.
func postFadeDelay(s config.Settings) time.Duration {
	ms := s.PostFadeDelayMs
	if ms < 0 {
		ms = int(math.Ceil(float64(s.FadeFrames) / s.FPS * 1000))
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Controller) anyPlaying(slots []config.Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slot := range slots {
		if c.states[slot.ID] == SlotPlaying {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
