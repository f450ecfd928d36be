package imagescan

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"sd-launcher/internal/metrics"
)

// DefaultDebounce groups the create+write burst of a single PNG save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports the newest image whenever a matching file is created or
// written in Dir.
type Watcher struct {
	Dir      string
	Ext      string
	Scanner  *Scanner
	Debounce time.Duration
	OnImage  func(Entry)
	Logger   zerolog.Logger
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	scanner := w.Scanner
	if scanner == nil {
		scanner = defaultScanner
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.Logger.Info().Str("dir", w.Dir).Str("ext", w.Ext).Msg("watching output directory")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !HasExtension(filepath.Base(ev.Name), w.Ext) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn().Err(err).Str("dir", w.Dir).Msg("watcher error")

		case <-timer.C:
			entry, found, err := scanner.LatestEntry(w.Dir, w.Ext)
			if err != nil {
				w.Logger.Warn().Err(err).Str("dir", w.Dir).Msg("latest image lookup failed")
				continue
			}
			if !found {
				continue
			}
			metrics.RecordImageObserved()
			if w.OnImage != nil {
				w.OnImage(entry)
			}
		}
	}
}
