package guard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// ErrWatchUnsupported is returned by Released for markers that do not live
// on the OS filesystem.
var ErrWatchUnsupported = errors.New("lock marker watch needs the OS filesystem")

// Released returns a channel that is closed once the marker is removed by
// anyone. The watch ends with ctx; the channel then stays open.
func (m *Marker) Released(ctx context.Context) (<-chan struct{}, error) {
	if _, ok := m.fs.(*afero.OsFs); !ok {
		return nil, ErrWatchUnsupported
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch lock marker: %w", err)
	}
	path := filepath.Clean(m.path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch lock marker: %w", err)
	}

	released := make(chan struct{})
	// The marker may be gone before the watch was in place.
	if ok, err := m.Exists(); err == nil && !ok {
		w.Close()
		close(released)
		return released, nil
	}

	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					close(released)
					return
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return released, nil
}
