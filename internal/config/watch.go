package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the file at path whenever it changes and calls apply with
// the new configuration.  A file that fails to load or validate is reported
// to onErr and the previous configuration stays in effect.  Watch blocks
// until ctx is done.
//
// The parent directory is watched rather than the file so editors that
// save by rename are picked up.
func Watch(ctx context.Context, path string, debounce time.Duration, apply func(Config), onErr func(error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			reload = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if onErr != nil {
				onErr(err)
			}

		case <-reload:
			reload = nil
			cfg, err := Load(abs)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			apply(cfg)
		}
	}
}
