// SPDX-License-Identifier: MIT

// Package config holds the persisted settings of the sync controller: the
// global clock parameters and the slot table. The persisted form is a single
// JSON file; the in-memory form is always fully populated.
package config

import (
	"strings"
)

// MaxSlots is the slot capacity reported to the UI. Updates carrying more
// slots are truncated, never rejected.
const MaxSlots = 20

// Resync modes.
const (
	ResyncCut  = "cut"
	ResyncFade = "fade"
)

// Slot is one configured playout endpoint. A slot produces wire traffic only
// while it is effective: enabled with a non-empty host and clip.
type Slot struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Channel   int    `json:"channel"`
	BaseLayer int    `json:"baseLayer"`
	Clip      string `json:"clip"`
	Timecode  string `json:"timecode"`
	Enabled   bool   `json:"enabled"`
}

// Effective reports whether the slot participates in sync operations.
func (s Slot) Effective() bool {
	return s.Enabled && s.Host != "" && s.Clip != ""
}

// Settings is the authoritative controller configuration.
type Settings struct {
	FPS                  float64 `json:"fps"`
	Frames               int64   `json:"frames"` // frames in one clip loop cycle
	AutosyncIntervalSec  int     `json:"autosyncIntervalSec"`
	DriftToleranceFrames int64   `json:"driftToleranceFrames"`
	ResyncMode           string  `json:"resyncMode"`
	FadeFrames           int     `json:"fadeFrames"`
	PostFadeDelayMs      int     `json:"postFadeDelayMs"` // -1 selects ceil(fadeFrames/fps) automatically
	Slots                []Slot  `json:"slots"`
}

// Default returns the fully populated default settings.
func Default() Settings {
	return Settings{
		FPS:                  50,
		Frames:               30000,
		AutosyncIntervalSec:  10,
		DriftToleranceFrames: 2,
		ResyncMode:           ResyncCut,
		FadeFrames:           2,
		PostFadeDelayMs:      -1,
		Slots:                []Slot{},
	}
}

// Effective returns the effective slots in slot order.
func (s Settings) Effective() []Slot {
	out := make([]Slot, 0, len(s.Slots))
	for _, slot := range s.Slots {
		if slot.Effective() {
			out = append(out, slot)
		}
	}
	return out
}

// Clone returns a deep copy; Settings contains one slice.
func (s Settings) Clone() Settings {
	out := s
	out.Slots = append([]Slot(nil), s.Slots...)
	return out
}

// NormalizeResyncMode canonicalizes a user-supplied resync mode, returning
// false for anything outside {cut, fade}.
func NormalizeResyncMode(mode string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ResyncCut:
		return ResyncCut, true
	case ResyncFade:
		return ResyncFade, true
	default:
		return "", false
	}
}

// normalize fills zero-valued per-slot fields with their defaults and assigns
// stable ids to slots that arrived without one.
func (s *Settings) normalize() {
	if len(s.Slots) > MaxSlots {
		s.Slots = s.Slots[:MaxSlots]
	}
	maxID := 0
	for _, slot := range s.Slots {
		if slot.ID > maxID {
			maxID = slot.ID
		}
	}
	for i := range s.Slots {
		slot := &s.Slots[i]
		if slot.ID <= 0 {
			maxID++
			slot.ID = maxID
		}
		if slot.Port == 0 {
			slot.Port = 5250
		}
		if slot.Channel == 0 {
			slot.Channel = 1
		}
		if slot.BaseLayer == 0 {
			slot.BaseLayer = 10
		}
		if slot.Timecode == "" {
			slot.Timecode = "00:00:00:00"
		}
	}
}
