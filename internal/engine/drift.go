// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/loopsync/internal/amcp"
	xlog "github.com/ManuGH/loopsync/internal/log"
	"github.com/ManuGH/loopsync/internal/metrics"
)

// Run drives the drift controller until ctx is cancelled. Interval and
// resync-mode changes take effect on the next tick. Ticks are single-flight:
// when a tick is still busy as the next one fires, the new tick is dropped
// and counted, never queued.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info().Str(xlog.FieldEvent, "engine.loop_started").Msg("drift controller running")
	for {
		c.mu.Lock()
		interval := time.Duration(c.settings.AutosyncIntervalSec) * time.Second
		c.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info().Str(xlog.FieldEvent, "engine.loop_stopped").Msg("drift controller stopped")
			return
		case <-timer.C:
		}

		if !c.tickBusy.CompareAndSwap(false, true) {
			c.droppedTicks.Add(1)
			metrics.TicksDropped.Inc()
			c.logger.Warn().Str(xlog.FieldEvent, "engine.tick_dropped").Msg("previous tick still running")
			continue
		}
		go func() {
			defer c.tickBusy.Store(false)
			c.tick(ctx)
		}()
	}
}

// tick performs one control-loop pass: sample drift, resync when out of
// tolerance, publish a snapshot. Failures are logged and never escape; the
// loop must outlive any remote outage.
func (c *Controller) tick(ctx context.Context) {
	defer c.broadcast()

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode != ModeAuto {
		return
	}

	tf, exceeded := c.sampleDrift(ctx)
	if !exceeded {
		return
	}
	// A mode change during sampling cancels the pending resync; an already
	// running resync is never interrupted.
	if c.Mode() != ModeAuto {
		return
	}
	resyncMode := c.Settings().ResyncMode
	if err := c.ResyncAll(ctx, resyncMode, tf, "auto"); err != nil {
		c.logger.Error().
			Err(err).
			Str(xlog.FieldEvent, "engine.auto_resync_failed").
			Msg("automatic resync failed")
	}
}

// sampleDrift queries every effective slot's active layer for its current
// frame and records the signed delta against the target. A slot whose reply
// is missing or unparseable gets a null sample and is excluded from the
// trigger decision. Returns the base target frame and whether any slot
// exceeded the tolerance.
func (c *Controller) sampleDrift(ctx context.Context) (int64, bool) {
	c.mu.Lock()
	tf := c.targetFrameBase(c.nowFn())
	tolerance := c.settings.DriftToleranceFrames
	c.mu.Unlock()

	p := c.plan()
	if len(p.slots) == 0 {
		return tf, false
	}

	results := make(map[int]sample, len(p.slots))
	var resMu sync.Mutex

	var g errgroup.Group
	for _, grp := range groupSlots(p.slots) {
		g.Go(func() error {
			conn := c.pool.Get(grp.addr)
			for _, slot := range grp.slots {
				pair := p.pairs[slot.ID]
				var sm sample
				reply, err := conn.Query(ctx, amcp.CallFrame(slot.Channel, pair.Active))
				if err == nil {
					if current, ok := reply.Int(); ok {
						sm = sample{
							current: current,
							drift:   current - slotTarget(tf, slot, p.settings),
							ok:      true,
						}
					}
				}
				resMu.Lock()
				results[slot.ID] = sm
				resMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	exceeded := false
	c.mu.Lock()
	for id, sm := range results {
		c.samples[id] = sm
		if sm.ok {
			metrics.DriftFrames.WithLabelValues(strconv.Itoa(id)).Set(float64(sm.drift))
			if abs64(sm.drift) > tolerance {
				exceeded = true
			}
		}
	}
	c.mu.Unlock()

	if exceeded {
		c.logger.Info().
			Str(xlog.FieldEvent, "engine.drift_exceeded").
			Int64(xlog.FieldTargetFrame, tf).
			Msg("drift above tolerance, resync pending")
	}
	return tf, exceeded
}

// TargetFrame exposes the offset-free target frame at the current instant,
// used by the control surface when a forced resync does not name a frame.
func (c *Controller) TargetFrame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetFrameBase(c.nowFn())
}

// DroppedTicks reports how many ticks were skipped due to single-flight.
func (c *Controller) DroppedTicks() uint64 {
	return c.droppedTicks.Load()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
