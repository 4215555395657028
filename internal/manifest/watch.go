// ABOUTME: Watches a manifest directory and revalidates it after changes settle.
// ABOUTME: Reports every scan to a callback so operators see diagnostics while editing.

package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Scan is the result of validating one directory.
type Scan struct {
	Dir       string
	Manifests []*Manifest
	Errors    []error
}

// ScanDir validates every *.json file in dir on the local filesystem.
func ScanDir(dir string) Scan {
	ms, errs := LoadDir(os.DirFS(dir), ".")
	return Scan{Dir: dir, Manifests: ms, Errors: errs}
}

// Log writes a summary and one warning per invalid file.
func (s Scan) Log(logger *slog.Logger) {
	for _, err := range s.Errors {
		logger.Warn("invalid manifest", "dir", s.Dir, "error", err)
	}
	ids := make([]ID, len(s.Manifests))
	for i, m := range s.Manifests {
		ids[i] = m.ID()
	}
	logger.Info("manifest directory scanned", "dir", s.Dir, "valid", ids, "invalid", len(s.Errors))
}

// Watcher rescans a directory whenever a manifest in it is written, created, removed or renamed.
type Watcher struct {
	dir      string
	debounce time.Duration
	onScan   func(Scan)
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher starts watching dir. Call Run to process events; Run closes the watcher.
func NewWatcher(dir string, debounce time.Duration, onScan func(Scan), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onScan:   onScan,
		logger:   logger.With("component", "manifest-watcher"),
		fsw:      fsw,
	}, nil
}

// Run delivers a Scan after each burst of changes until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("manifest changed", "file", filepath.Base(event.Name), "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			w.onScan(ScanDir(w.dir))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
