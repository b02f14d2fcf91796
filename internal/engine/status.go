package engine

import (
	"time"

	"github.com/ManuGH/loopsync/internal/config"
)

// Row is the status of one effective slot. CurrentFrame and Drift are nil
// when the slot's frame could not be sampled on the last tick; a UI must
// render that distinctly from an in-tolerance zero.
type Row struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Channel      int    `json:"channel"`
	BaseLayer    int    `json:"baseLayer"`
	ActiveLayer  int    `json:"activeLayer"`
	StandbyLayer int    `json:"standbyLayer"`
	Clip         string `json:"clip"`
	Timecode     string `json:"timecode"`
	State        string `json:"state"`
	CurrentFrame *int64 `json:"currentFrame"`
	TargetFrame  int64  `json:"targetFrame"`
	Drift        *int64 `json:"drift"`
}

// Status is the snapshot published to the control surface and broadcast to
// websocket subscribers. Only effective slots appear in Rows.
type Status struct {
	Mode                 string            `json:"mode"`
	ResyncMode           string            `json:"resyncMode"`
	FadeFrames           int               `json:"fadeFrames"`
	T0                   *time.Time        `json:"t0"`
	FPS                  float64           `json:"fps"`
	Frames               int64             `json:"frames"`
	AutosyncIntervalSec  int               `json:"autosyncIntervalSec"`
	DriftToleranceFrames int64             `json:"driftToleranceFrames"`
	SlotCapacity         int               `json:"slotCapacity"`
	DroppedTicks         uint64            `json:"droppedTicks"`
	Connections          map[string]string `json:"connections"`
	Rows                 []Row             `json:"rows"`
}

// Status builds a point-in-time snapshot under the control-plane mutex.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Mode:                 string(c.mode),
		ResyncMode:           c.settings.ResyncMode,
		FadeFrames:           c.settings.FadeFrames,
		FPS:                  c.settings.FPS,
		Frames:               c.settings.Frames,
		AutosyncIntervalSec:  c.settings.AutosyncIntervalSec,
		DriftToleranceFrames: c.settings.DriftToleranceFrames,
		SlotCapacity:         config.MaxSlots,
		DroppedTicks:         c.droppedTicks.Load(),
		Connections:          make(map[string]string),
		Rows:                 make([]Row, 0, len(c.settings.Slots)),
	}
	if !c.t0.IsZero() {
		t0 := c.t0
		st.T0 = &t0
	}
	for addr, state := range c.pool.States() {
		st.Connections[addr] = state.String()
	}

	now := c.nowFn()
	base := c.targetFrameBase(now)
	for _, slot := range c.settings.Slots {
		if !slot.Effective() {
			continue
		}
		pair := c.pairs[slot.ID]
		row := Row{
			Index:        slot.ID,
			Name:         slot.Name,
			Host:         slot.Host,
			Port:         slot.Port,
			Channel:      slot.Channel,
			BaseLayer:    slot.BaseLayer,
			ActiveLayer:  pair.Active,
			StandbyLayer: pair.Standby,
			Clip:         slot.Clip,
			Timecode:     slot.Timecode,
			State:        string(c.states[slot.ID]),
			TargetFrame:  slotTarget(base, slot, c.settings),
		}
		if sm, ok := c.samples[slot.ID]; ok && sm.ok {
			current, drift := sm.current, sm.drift
			row.CurrentFrame = &current
			row.Drift = &drift
		}
		st.Rows = append(st.Rows, row)
	}
	return st
}
