package content

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/Quertz/joker/internal/logging"
)

// Watch reloads a joke file whenever it is written, created, removed or
// renamed in the store directory, so edits pulled by the updater are served
// before the restart. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	log.Debug("watching joke directory", "dir", s.dir)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("joke directory watcher error", logging.KeyError, err)

		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	lang, category, ok := s.keyForPath(event.Name)
	if !ok {
		return
	}

	log.Info("joke file changed, reloading", "path", event.Name, "op", event.Op.String())
	s.Invalidate(lang, category)
	s.load(lang, category)
}
