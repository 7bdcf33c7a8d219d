package settings

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/atinylittleshell/autotab/pkg/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 75 * time.Millisecond

// Watch reloads the store whenever the database file at dbFilePath (or its
// journal files) is written by any process, so a settings form running
// elsewhere reaches every subscriber. It blocks until ctx is done.
func Watch(ctx context.Context, store *Store, dbFilePath string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Close()
	}()

	dir := filepath.Dir(dbFilePath)
	base := filepath.Base(dbFilePath)
	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Debug("settings watching for changes", zap.String("path", dbFilePath))

	reload := debounce.New(watchDebounce, debounce.RealScheduler)
	defer reload.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			reload.Trigger(func(uint64) {
				if _, err := store.Reload(); err != nil {
					logger.Warn("settings reload failed", zap.Error(err))
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}
