// SPDX-License-Identifier: MIT
package timecode

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	cases := []struct {
		tc   string
		fps  float64
		want int64
	}{
		{"00:00:00:00", 50, 0},
		{"00:00:01:00", 50, 50},
		{"00:03:24:05", 50, 10205},
		{"01:00:00:00", 25, 90000},
		{"10:59:59:24", 25, (10*3600+59*60+59)*25 + 24},
		// FF is not clamped: overflow continues arithmetically.
		{"00:00:00:99", 25, 99},
		{"00:00:01:30", 25, 55},
	}
	for _, c := range cases {
		if got := Parse(c.tc, c.fps); got != c.want {
			t.Errorf("Parse(%q, %v) = %d, want %d", c.tc, c.fps, got, c.want)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, tc := range []string{
		"", "::", "0:00:00:00", "00:00:00", "aa:bb:cc:dd",
		"00:00:00:00:00", "-1:00:00:00", "00.00.00.00", "00:00:00:0a",
	} {
		if got := Parse(tc, 50); got != 0 {
			t.Errorf("Parse(%q) = %d, want 0", tc, got)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	const fps = 50.0
	for _, f := range []int64{0, 1, 49, 50, 10205, 29999, 123456} {
		got := Parse(Format(f, fps), fps)
		if got != f {
			t.Errorf("Parse(Format(%d)) = %d", f, got)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(10205, 50); got != "00:03:24:05" {
		t.Errorf("Format(10205, 50) = %q", got)
	}
	if got := Format(-1, 50); got != "00:00:00:00" {
		t.Errorf("Format(-1, 50) = %q", got)
	}
}

func TestTargetFrame(t *testing.T) {
	t0 := time.Now()

	// Scenario: fps=50, loop=30000, zero offset.
	if got := TargetFrame(t0, t0.Add(time.Second), 50, 30000, 0); got != 50 {
		t.Errorf("target at t0+1s = %d, want 50", got)
	}
	if got := TargetFrame(t0, t0.Add(600*time.Second), 50, 30000, 0); got != 0 {
		t.Errorf("target at t0+600s = %d, want 0 (wrap)", got)
	}
	if got := TargetFrame(t0, t0.Add(601*time.Second), 50, 30000, 50); got != 100 {
		t.Errorf("target with offset = %d, want 100", got)
	}
}

func TestTargetFrameZeroEpoch(t *testing.T) {
	if got := TargetFrame(time.Time{}, time.Now(), 50, 30000, 0); got != 0 {
		t.Errorf("target with zero t0 = %d, want 0", got)
	}
}

func TestTargetFrameMonotonic(t *testing.T) {
	t0 := time.Now()
	prev := int64(-1)
	// Non-decreasing modulo the loop length across a strictly increasing
	// sequence of instants inside a single loop cycle.
	for ms := 0; ms < 5000; ms += 137 {
		got := TargetFrame(t0, t0.Add(time.Duration(ms)*time.Millisecond), 50, 30000, 0)
		if got < prev {
			t.Fatalf("target went backwards: %d after %d at +%dms", got, prev, ms)
		}
		prev = got
	}
}
