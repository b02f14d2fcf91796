// SPDX-License-Identifier: MIT

// Package timecode implements HH:MM:SS:FF timecode parsing and the
// frame arithmetic used to phase-align looping playouts.
package timecode

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var tcPattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}):(\d{2})$`)

// Parse converts an HH:MM:SS:FF timecode to an absolute frame index at the
// given frame rate. Malformed input yields 0; upstream validation is the only
// defense. The frame field is intentionally not clamped to fps-1: an
// overflowing FF simply adds to the total.
func Parse(tc string, fps float64) int64 {
	m := tcPattern.FindStringSubmatch(tc)
	if m == nil {
		return 0
	}
	hh, _ := strconv.ParseInt(m[1], 10, 64)
	mm, _ := strconv.ParseInt(m[2], 10, 64)
	ss, _ := strconv.ParseInt(m[3], 10, 64)
	ff, _ := strconv.ParseInt(m[4], 10, 64)
	return int64(float64(hh*3600+mm*60+ss)*fps) + ff
}

// Format renders an absolute frame index as HH:MM:SS:FF. The inverse of
// Parse for ff < fps.
func Format(frames int64, fps float64) string {
	if frames < 0 || fps <= 0 {
		return "00:00:00:00"
	}
	ifps := int64(fps)
	if ifps < 1 {
		ifps = 1
	}
	secs := frames / ifps
	ff := frames % ifps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60, ff)
}

// TargetFrame computes the frame index an aligned playout should be showing
// at instant now, given the clock epoch t0, the frame rate, the loop length
// and a per-slot start offset in frames. A zero t0 means the clock has never
// been started and the target is 0. The result is always in [0, loopFrames).
func TargetFrame(t0, now time.Time, fps float64, loopFrames, offset int64) int64 {
	if t0.IsZero() || loopFrames <= 0 {
		return 0
	}
	elapsed := now.Sub(t0).Seconds()
	frames := int64(elapsed*fps) + offset
	frames %= loopFrames
	if frames < 0 {
		frames += loopFrames
	}
	return frames
}
