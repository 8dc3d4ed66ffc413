package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a project's catalog when the catalog file changes and
// hands the fresh catalog to a callback. Invalid edits are logged and
// ignored; the previous catalog stays in effect.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	store    Store
	root     string
	onChange func(*Catalog)
	logger   *zap.Logger
	debounce time.Duration
	doneCh   chan struct{}
	running  bool
}

// NewWatcher creates a watcher for the catalog under projectRoot. The
// .docket directory must already exist.
func NewWatcher(projectRoot string, store Store, onChange func(*Catalog), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog: creating watcher: %w", err)
	}
	if err := fw.Add(DirPath(projectRoot)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("catalog: watching %s: %w", DirPath(projectRoot), err)
	}
	return &Watcher{
		watcher:  fw,
		store:    store,
		root:     projectRoot,
		onChange: onChange,
		logger:   logger,
		debounce: DefaultDebounce,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()
	go w.run(ctx)
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if running {
		<-w.doneCh
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != File {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cat, err := w.store.Load(w.root)
	if err != nil {
		w.logger.Warn("catalog reload failed, keeping previous catalog",
			zap.String("root", w.root), zap.Error(err))
		return
	}
	w.logger.Info("catalog reloaded",
		zap.String("project", cat.Project),
		zap.Int("categories", len(cat.Categories)),
		zap.Int("collections", len(cat.Collections)))
	if w.onChange != nil {
		w.onChange(cat)
	}
}
