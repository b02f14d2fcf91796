package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is the sentinel wrapped by every validation failure so the API
// layer can map them to client errors.
var ErrInvalid = errors.New("config: invalid")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks a fully populated Settings value. The zero pieces of a
// partial update must be filled in before calling this.
func Validate(s Settings) error {
	if s.FPS <= 0 {
		return invalidf("fps must be positive, got %v", s.FPS)
	}
	if s.Frames <= 0 {
		return invalidf("frames must be positive, got %d", s.Frames)
	}
	if s.AutosyncIntervalSec <= 0 {
		return invalidf("autosyncIntervalSec must be positive, got %d", s.AutosyncIntervalSec)
	}
	if s.DriftToleranceFrames < 0 {
		return invalidf("driftToleranceFrames must not be negative, got %d", s.DriftToleranceFrames)
	}
	if _, ok := NormalizeResyncMode(s.ResyncMode); !ok {
		return invalidf("resyncMode must be cut or fade, got %q", s.ResyncMode)
	}
	if s.FadeFrames < 1 {
		return invalidf("fadeFrames must be at least 1, got %d", s.FadeFrames)
	}
	if s.PostFadeDelayMs < -1 {
		return invalidf("postFadeDelayMs must be -1 (auto) or non-negative, got %d", s.PostFadeDelayMs)
	}
	if len(s.Slots) > MaxSlots {
		return invalidf("at most %d slots, got %d", MaxSlots, len(s.Slots))
	}
	seen := make(map[int]struct{}, len(s.Slots))
	for i, slot := range s.Slots {
		if slot.ID <= 0 {
			return invalidf("slot %d: id must be positive", i)
		}
		if _, dup := seen[slot.ID]; dup {
			return invalidf("slot %d: duplicate id %d", i, slot.ID)
		}
		seen[slot.ID] = struct{}{}
		if slot.Port < 1 || slot.Port > 65535 {
			return invalidf("slot %d: port out of range: %d", i, slot.Port)
		}
		if slot.Channel < 1 {
			return invalidf("slot %d: channel must be at least 1, got %d", i, slot.Channel)
		}
		if slot.BaseLayer < 1 {
			return invalidf("slot %d: baseLayer must be at least 1, got %d", i, slot.BaseLayer)
		}
	}
	return nil
}
