package storage

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/atomic"
)

// Watcher flags changes in a directory. The flag is consumed by the serving
// loop between requests; the watcher goroutine never touches vision state.
type Watcher struct {
	fsw     *fsnotify.Watcher
	changed *atomic.Bool
	logger  *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// Watch starts watching dir.
func Watch(dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		fsw:     fsw,
		changed: atomic.NewBool(false),
		logger:  logger,
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("model directory changed", "path", ev.Name, "op", ev.Op.String())
			w.changed.Store(true)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("model watcher error", "error", err)
		}
	}
}

// Changed reports whether anything changed since the last call and clears
// the flag.
func (w *Watcher) Changed() bool {
	return w.changed.Swap(false)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
