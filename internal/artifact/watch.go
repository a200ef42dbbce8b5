package artifact

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reports artifact IDs as their content files land in the store's
// content directory. The channel closes when ctx is cancelled or the
// underlying watcher fails.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Join(s.root, "content")); err != nil {
		watcher.Close()
		return nil, err
	}

	ids := make(chan string)
	go func() {
		defer close(ids)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Content is written to a .tmp file and renamed into place,
				// so a rename or create of a .gz file is a finished store.
				if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, ".gz") {
					continue
				}
				select {
				case ids <- strings.TrimSuffix(name, ".gz"):
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.debugLog("[store] watch error: %v", err)
			}
		}
	}()

	return ids, nil
}
