package templates

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watch re-registers templates in dir as their files change until ctx is
// done. A changed manifest reloads the whole directory. Files that fail to
// parse keep their last good version.
func (e *Engine) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return types.WrapError(err, "failed to create template watcher")
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return types.WrapError(err, "failed to watch template directory")
	}

	debounce := e.config.WatchDebounce
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	go e.processEvents(ctx, watcher, dir, debounce)

	e.logger.Info("Watching templates", zap.String("dir", dir))
	return nil
}

func (e *Engine) processEvents(ctx context.Context, watcher *fsnotify.Watcher, dir string, debounce time.Duration) {
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)

	defer func() {
		mu.Lock()
		for _, timer := range timers {
			timer.Stop()
		}
		mu.Unlock()
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			base := filepath.Base(event.Name)
			if base != ManifestFile && !isTemplateFile(base) {
				continue
			}

			mu.Lock()
			if timer, exists := timers[event.Name]; exists {
				timer.Stop()
			}
			timers[event.Name] = time.AfterFunc(debounce, func() {
				mu.Lock()
				delete(timers, event.Name)
				mu.Unlock()

				e.handleEvent(dir, event)
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Warn("Template watcher error", zap.Error(err))
		}
	}
}

func (e *Engine) handleEvent(dir string, event fsnotify.Event) {
	if filepath.Base(event.Name) == ManifestFile {
		if _, err := e.LoadDir(dir); err != nil {
			e.logger.Error("Failed to reload templates", zap.Error(err))
		}
		return
	}

	name := nameForFile(dir, event.Name)

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if err := e.registerFile(name, event.Name); err != nil {
			e.logger.Warn("Template reload rejected", zap.String("name", name), zap.Error(err))
			return
		}
		e.logger.Info("Template reloaded", zap.String("name", name))

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if e.Remove(name) {
			e.logger.Info("Template removed", zap.String("name", name))
		}
	}
}

func nameForFile(dir, path string) string {
	if manifest, err := readManifest(dir); err == nil {
		for name, file := range manifest.Templates {
			if filepath.Clean(filepath.Join(dir, filepath.FromSlash(file))) == filepath.Clean(path) {
				return name
			}
		}
	}
	return templateName(path)
}
