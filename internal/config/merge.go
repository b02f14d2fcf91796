package config

import "encoding/json"

// Patch is a partial settings update as accepted by the control surface.
// Absent fields leave the current value untouched; unknown JSON keys are
// dropped by the decoder and never reach the merge.
type Patch struct {
	FPS                  *float64 `json:"fps"`
	Frames               *int64   `json:"frames"`
	AutosyncIntervalSec  *int     `json:"autosyncIntervalSec"`
	DriftToleranceFrames *int64   `json:"driftToleranceFrames"`
	ResyncMode           *string  `json:"resyncMode"`
	FadeFrames           *int     `json:"fadeFrames"`
	PostFadeDelayMs      *int     `json:"postFadeDelayMs"`
	Slots                *[]Slot  `json:"slots"`
}

// ParsePatch decodes a partial update from a JSON body.
func ParsePatch(body []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(body, &p); err != nil {
		return Patch{}, invalidf("malformed JSON: %v", err)
	}
	return p, nil
}

// Merge applies a patch over base field by field, normalizes the result and
// validates it. base is never mutated; on validation failure the caller
// keeps the old settings.
func Merge(base Settings, p Patch) (Settings, error) {
	out := base.Clone()
	if p.FPS != nil {
		out.FPS = *p.FPS
	}
	if p.Frames != nil {
		out.Frames = *p.Frames
	}
	if p.AutosyncIntervalSec != nil {
		out.AutosyncIntervalSec = *p.AutosyncIntervalSec
	}
	if p.DriftToleranceFrames != nil {
		out.DriftToleranceFrames = *p.DriftToleranceFrames
	}
	if p.ResyncMode != nil {
		mode, ok := NormalizeResyncMode(*p.ResyncMode)
		if !ok {
			return Settings{}, invalidf("resyncMode must be cut or fade, got %q", *p.ResyncMode)
		}
		out.ResyncMode = mode
	}
	if p.FadeFrames != nil {
		out.FadeFrames = *p.FadeFrames
	}
	if p.PostFadeDelayMs != nil {
		out.PostFadeDelayMs = *p.PostFadeDelayMs
	}
	if p.Slots != nil {
		out.Slots = append([]Slot(nil), (*p.Slots)...)
	}
	out.normalize()
	if err := Validate(out); err != nil {
		return Settings{}, err
	}
	return out, nil
}
