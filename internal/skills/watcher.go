package skills

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/orchestrix-dev/orchestrix/internal/logging"
)

// Watch reloads the catalog when its file changes on disk. Blocks until ctx
// is cancelled.
func Watch(ctx context.Context, catalog *Catalog, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the parent directory; editors and atomic writers replace the
	// file rather than writing in place.
	dir := filepath.Dir(catalog.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(catalog.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := catalog.Reload(); err != nil {
				logger.Warn("skills catalog reload failed", "error", err)
			} else {
				logger.Debug("skills catalog reloaded", "path", target)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("skills watcher error", "error", err)
		}
	}
}
