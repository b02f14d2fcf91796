// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	xlog "github.com/ManuGH/loopsync/internal/log"
)

const debounce = 500 * time.Millisecond

// Watch reloads the settings file whenever it changes on disk and hands the
// result to onChange. An invalid file keeps the previous settings in force;
// the failure is logged. Watch returns once the watcher is installed and
// stops when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	logger := xlog.WithComponent("config")
	logger.Info().
		Str(xlog.FieldEvent, "config.watcher_started").
		Str("path", path).
		Msg("watching config file for changes")

	go func() {
		defer watcher.Close() //nolint:errcheck
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				logger.Info().Str(xlog.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Write and Create cover direct writes as well as the
				// rename dance editors and renameio perform.
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					s, err := Load(path)
					if err != nil {
						logger.Error().
							Err(err).
							Str(xlog.FieldEvent, "config.auto_reload_failed").
							Msg("config file changed but did not load")
						return
					}
					logger.Info().
						Str(xlog.FieldEvent, "config.reloaded").
						Msg("configuration reloaded from disk")
					onChange(s)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Str(xlog.FieldEvent, "config.watcher_error").Msg("watcher error")
			}
		}
	}()
	return nil
}
