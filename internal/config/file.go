// SPDX-License-Identifier: MIT
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Load reads the persisted settings file. A missing file is not an error:
// the sample settings are written to path and returned. A present but
// unreadable or invalid file is fatal at startup.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s := Sample()
		if werr := Save(path, s); werr != nil {
			return Settings{}, fmt.Errorf("write sample config: %w", werr)
		}
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, invalidf("parse %s: %v", path, err)
	}
	s.normalize()
	if err := Validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save persists settings with an atomic replace: write to a temp file in the
// same directory, fsync, rename.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("atomically replace config: %w", err)
	}
	return nil
}

// Sample returns the settings written on first start: defaults plus one
// disabled example slot the operator can copy from.
func Sample() Settings {
	s := Default()
	s.Slots = []Slot{{
		ID:        1,
		Name:      "Example",
		Host:      "127.0.0.1",
		Port:      5250,
		Channel:   1,
		BaseLayer: 10,
		Clip:      "loops/example.mov",
		Timecode:  "00:00:00:00",
		Enabled:   false,
	}}
	return s
}
