package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc перечитывает один документ рабочего каталога
type ReloadFunc func() error

// WatchDocuments следит за каталогом и вызывает reload для изменённых файлов.
// Следим за каталогом, а не за файлами: атомарная запись через rename заменяет inode.
// Блокируется до отмены ctx.
func WatchDocuments(ctx context.Context, dir string, docs map[string]ReloadFunc, logger *zap.Logger) error {
	logger = logger.With(zap.String("mod", "watcher"))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching documents", zap.String("dir", dir), zap.Int("documents", len(docs)))

	// Редакторы пишут файл несколькими событиями подряд
	const debounce = 300 * time.Millisecond
	dirty := map[string]time.Time{}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if _, tracked := docs[name]; !tracked {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				dirty[name] = time.Now()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		case now := <-ticker.C:
			for name, at := range dirty {
				if now.Sub(at) < debounce {
					continue
				}
				delete(dirty, name)
				if err := docs[name](); err != nil {
					logger.Error("document reload failed", zap.String("file", name), zap.Error(err))
					continue
				}
				logger.Info("document reloaded", zap.String("file", name))
			}
		}
	}
}
