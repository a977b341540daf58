package seed

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the fixture directory and calls onChange with the
// changed JSON files once writes have settled.
type Watcher struct {
	dir           string
	onChange      func(paths []string)
	logger        *zap.Logger
	watcher       *fsnotify.Watcher
	changedPaths  map[string]bool
	mu            sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
}

func NewWatcher(dir string, debounce time.Duration, onChange func(paths []string), logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:           dir,
		onChange:      onChange,
		logger:        logger.Named("seed-watcher"),
		changedPaths:  make(map[string]bool),
		debounceDelay: debounce,
		stopChan:      make(chan struct{}),
	}
}

// Start adds the fixture tree to the watch list and begins processing events.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return err
	}

	w.logger.Info("watching seed fixtures", zap.String("dir", w.dir))
	go w.processEvents()
	return nil
}

func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fixture watcher error", zap.Error(err))
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	info, err := os.Stat(event.Name)
	if err == nil && info.IsDir() {
		if event.Has(fsnotify.Create) {
			w.watcher.Add(event.Name)
		}
		return
	}
	if !isFixture(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.changedPaths[event.Name] = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.flush)
}

// isFixture ignores editor swap files and our own temp files.
func isFixture(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}

func (w *Watcher) flush() {
	select {
	case <-w.stopChan:
		return
	default:
	}

	w.mu.Lock()
	if len(w.changedPaths) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.changedPaths))
	for p := range w.changedPaths {
		paths = append(paths, p)
	}
	w.changedPaths = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(paths)
	w.logger.Info("seed fixtures changed", zap.Int("files", len(paths)))
	w.onChange(paths)
}
