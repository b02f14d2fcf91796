// SPDX-License-Identifier: MIT
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaults(t *testing.T) {
	s := Default()
	if s.FPS != 50 || s.Frames != 30000 || s.AutosyncIntervalSec != 10 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.ResyncMode != ResyncCut || s.FadeFrames != 2 || s.PostFadeDelayMs != -1 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if err := Validate(s); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestEffective(t *testing.T) {
	s := Default()
	s.Slots = []Slot{
		{ID: 1, Host: "a", Clip: "x.mov", Enabled: true},
		{ID: 2, Host: "", Clip: "x.mov", Enabled: true},  // no host
		{ID: 3, Host: "a", Clip: "", Enabled: true},      // no clip
		{ID: 4, Host: "a", Clip: "x.mov", Enabled: false}, // disabled
	}
	eff := s.Effective()
	if len(eff) != 1 || eff[0].ID != 1 {
		t.Errorf("effective = %+v", eff)
	}
}

func TestMergePartial(t *testing.T) {
	base := Default()
	p, err := ParsePatch([]byte(`{"fps": 25, "resyncMode": "FADE", "unknownKey": true}`))
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	out, err := Merge(base, p)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.FPS != 25 {
		t.Errorf("fps = %v", out.FPS)
	}
	if out.ResyncMode != ResyncFade {
		t.Errorf("resyncMode = %q", out.ResyncMode)
	}
	// Untouched fields survive.
	if out.Frames != base.Frames || out.FadeFrames != base.FadeFrames {
		t.Errorf("merge clobbered untouched fields: %+v", out)
	}
}

func TestMergeRejectsInvalid(t *testing.T) {
	base := Default()
	for _, body := range []string{
		`{"fps": 0}`,
		`{"frames": -1}`,
		`{"autosyncIntervalSec": 0}`,
		`{"driftToleranceFrames": -1}`,
		`{"resyncMode": "wipe"}`,
		`{"fadeFrames": 0}`,
	} {
		p, err := ParsePatch([]byte(body))
		if err != nil {
			t.Fatalf("ParsePatch(%s): %v", body, err)
		}
		if _, err := Merge(base, p); !errors.Is(err, ErrInvalid) {
			t.Errorf("body %s: expected ErrInvalid, got %v", body, err)
		}
	}
}

func TestMergeTruncatesSlots(t *testing.T) {
	slots := make([]Slot, MaxSlots+5)
	for i := range slots {
		slots[i] = Slot{Name: "s"}
	}
	p := Patch{Slots: &slots}
	out, err := Merge(Default(), p)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(out.Slots) != MaxSlots {
		t.Errorf("slots = %d, want %d", len(out.Slots), MaxSlots)
	}
}

func TestNormalizeFillsSlotDefaults(t *testing.T) {
	slots := []Slot{{Name: "a"}, {ID: 7, Name: "b"}, {Name: "c"}}
	p := Patch{Slots: &slots}
	out, err := Merge(Default(), p)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	for _, s := range out.Slots {
		if s.Port != 5250 || s.Channel != 1 || s.BaseLayer != 10 || s.Timecode != "00:00:00:00" {
			t.Errorf("slot defaults not applied: %+v", s)
		}
	}
	seen := map[int]bool{}
	for _, s := range out.Slots {
		if s.ID <= 0 || seen[s.ID] {
			t.Errorf("ids not unique and positive: %+v", out.Slots)
		}
		seen[s.ID] = true
	}
}

func TestLoadWritesSampleWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Slots) != 1 || s.Slots[0].Enabled {
		t.Errorf("sample should carry one disabled slot: %+v", s.Slots)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("sample file not written: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	want := Default()
	want.FPS = 25
	want.Slots = []Slot{{
		ID: 1, Name: "cam1", Host: "10.0.0.5", Port: 5250,
		Channel: 1, BaseLayer: 10, Clip: "a.mov",
		Timecode: "00:03:24:05", Enabled: true,
	}}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := map[string]any{"fps": 25, "futureKnob": "x"}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.FPS != 25 || s.Frames != 30000 {
		t.Errorf("defaults not layered under file: %+v", s)
	}
}

func TestNormalizeResyncMode(t *testing.T) {
	for in, want := range map[string]string{"cut": ResyncCut, "CUT": ResyncCut, " Fade ": ResyncFade} {
		got, ok := NormalizeResyncMode(in)
		if !ok || got != want {
			t.Errorf("NormalizeResyncMode(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := NormalizeResyncMode("wipe"); ok {
		t.Error("wipe must be rejected")
	}
}
