// Package watch reloads a file-backed artifact (rule document, classifier
// model) when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// File calls reload after path changes. The parent directory is watched so
// atomic rename-on-save is seen. File returns once the watcher is running;
// it stops when ctx is cancelled.
func File(ctx context.Context, path string, debounce time.Duration, logger *zap.Logger, reload func() error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("File change detected", zap.String("file", event.Name), zap.String("op", event.Op.String()))
				timer.Reset(debounce)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Watcher error", zap.Error(err))

			case <-timer.C:
				if err := reload(); err != nil {
					logger.Error("Reload failed, keeping previous version", zap.String("file", abs), zap.Error(err))
					continue
				}
				logger.Info("Reloaded", zap.String("file", abs))

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
