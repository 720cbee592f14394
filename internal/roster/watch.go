package roster

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the roster whenever either file is written or replaced and
// hands the result to onChange. A failed reload is logged and the previous
// roster stays in use. It runs until ctx is cancelled.
func Watch(ctx context.Context, sensorsPath, contactsPath string, log *zap.Logger, onChange func(*Roster)) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Directories, not files: editors and our own tooling replace files by
	// rename, which drops a file watch.
	targets := map[string]bool{}
	for _, p := range []string{sensorsPath, contactsPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return err
		}
	}
	log.Info("roster_watch_started", zap.String("sensors", sensorsPath), zap.String("contacts", contactsPath))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, _ := filepath.Abs(event.Name)
			if !targets[abs] {
				continue
			}
			r, err := Load(sensorsPath, contactsPath)
			if err != nil {
				log.Warn("roster_reload_failed", zap.String("file", event.Name), zap.Error(err))
				continue
			}
			log.Info("roster_reloaded", zap.Int("sensors", r.Len()))
			onChange(r)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("roster_watch_error", zap.Error(err))
		}
	}
}
