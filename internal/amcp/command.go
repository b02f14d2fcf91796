// SPDX-License-Identifier: MIT

// Package amcp implements the ASCII command protocol spoken by the remote
// playout engine: command construction, DEFER/RESUME batching and a
// persistent per-host connection with single-batch-in-flight discipline.
package amcp

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is a single protocol line without its terminator.
type Command string

// target renders the channel-layer address used by every layer command.
func target(channel, layer int) string {
	return strconv.Itoa(channel) + "-" + strconv.Itoa(layer)
}

// LoadBG background-loads a clip on a layer with an absolute seek. The clip
// name is always quoted on the wire.
func LoadBG(channel, layer int, clip string, seek int64, loop bool) Command {
	var b strings.Builder
	fmt.Fprintf(&b, "LOADBG %s %q SEEK %d", target(channel, layer), clip, seek)
	if loop {
		b.WriteString(" LOOP")
	}
	return Command(b.String())
}

// Play starts playback of a previously loaded background.
func Play(channel, layer int) Command {
	return Command("PLAY " + target(channel, layer))
}

// Pause freezes the given layer on its current frame.
func Pause(channel, layer int) Command {
	return Command("PAUSE " + target(channel, layer))
}

// MixerOpacity sets layer opacity, instantaneously (frames=0) or as a timed
// linear ramp.
func MixerOpacity(channel, layer int, value float64, frames int) Command {
	return mixer(channel, layer, "OPACITY", value, frames)
}

// MixerVolume sets layer volume, instantaneously (frames=0) or as a timed
// linear ramp.
func MixerVolume(channel, layer int, value float64, frames int) Command {
	return mixer(channel, layer, "VOLUME", value, frames)
}

func mixer(channel, layer int, param string, value float64, frames int) Command {
	line := fmt.Sprintf("MIXER %s %s %s %d", target(channel, layer), param,
		strconv.FormatFloat(value, 'f', -1, 64), frames)
	if frames > 0 {
		line += " LINEAR"
	}
	return Command(line)
}

// CallFrame queries the current frame index of a layer.
func CallFrame(channel, layer int) Command {
	return Command("CALL " + target(channel, layer) + " FRAME")
}

// Batch is an ordered command sequence the engine applies in a single render
// cycle. Wire framing is the DEFER/RESUME envelope.
type Batch struct {
	Commands []Command
}

// Add appends commands preserving order.
func (b *Batch) Add(cmds ...Command) {
	b.Commands = append(b.Commands, cmds...)
}

// Empty reports whether the batch carries no commands.
func (b *Batch) Empty() bool {
	return len(b.Commands) == 0
}

// Lines renders the full envelope: DEFER, the commands in order, RESUME.
func (b *Batch) Lines() []string {
	lines := make([]string, 0, len(b.Commands)+2)
	lines = append(lines, "DEFER")
	for _, c := range b.Commands {
		lines = append(lines, string(c))
	}
	lines = append(lines, "RESUME")
	return lines
}
