// Package watch submits files dropped into watched directories to the
// verification pipeline. It debounces rapid filesystem events so partially
// written files are picked up once, after they settle.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
)

// Handler receives a file once it has settled on disk.
type Handler func(ctx context.Context, file content.FileBlob)

// Config controls what the watcher picks up.
type Config struct {
	// Recursive also watches subdirectories, including ones created later.
	Recursive bool
	// IncludePatterns, when set, restrict pickup to matching base names.
	IncludePatterns []string
	// ExcludePatterns always win over includes.
	ExcludePatterns []string
	// Debounce is how long a file must stay quiet before submission.
	Debounce time.Duration
	// MaxFileBytes skips files larger than this. Zero means no limit.
	MaxFileBytes int64
}

// DefaultConfig returns a watcher configuration with a half second settle
// window and common scratch files excluded.
func DefaultConfig() Config {
	return Config{
		Recursive:       true,
		ExcludePatterns: []string{".*", "*.tmp", "*.part", "*.swp"},
		Debounce:        500 * time.Millisecond,
	}
}

// Watcher monitors directories and hands settled files to a Handler.
type Watcher struct {
	watcher *fsnotify.Watcher
	config  Config
	handler Handler
	logger  *logging.Logger

	mu           sync.RWMutex
	watchedPaths map[string]bool

	debounceMu sync.Mutex
	pending    map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher and starts its event loop. Call Stop to shut
// it down.
func NewWatcher(config Config, handler Handler, logger *logging.Logger) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if config.Debounce <= 0 {
		config.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("watch")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:      fsWatcher,
		config:       config,
		handler:      handler,
		logger:       logger,
		watchedPaths: make(map[string]bool),
		pending:      make(map[string]*time.Timer),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go w.eventLoop()
	return w, nil
}

// AddPath starts watching a directory. With Recursive set, existing
// subdirectories are added too.
func (w *Watcher) AddPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watchedPaths[path] {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch path %s is not a directory", path)
	}

	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}
	w.watchedPaths[path] = true

	if w.config.Recursive {
		err := filepath.Walk(path, func(subPath string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() && subPath != path && !w.shouldIgnore(subPath) {
				if err := w.watcher.Add(subPath); err != nil {
					return fmt.Errorf("failed to watch subdirectory: %w", err)
				}
				w.watchedPaths[subPath] = true
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// WatchedPaths returns the directories currently being watched.
func (w *Watcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.watchedPaths))
	for path := range w.watchedPaths {
		paths = append(paths, path)
	}
	return paths
}

// Stop cancels pending submissions and closes the watcher.
func (w *Watcher) Stop() error {
	w.cancel()

	w.debounceMu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if w.shouldIgnore(event.Name) {
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Has(fsnotify.Create) && w.config.Recursive {
			w.mu.Lock()
			if !w.watchedPaths[event.Name] {
				if err := w.watcher.Add(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", map[string]interface{}{
						"path":  event.Name,
						"error": err.Error(),
					})
				} else {
					w.watchedPaths[event.Name] = true
				}
			}
			w.mu.Unlock()
		}
		return
	}

	w.debounceMu.Lock()
	if timer, exists := w.pending[event.Name]; exists {
		timer.Stop()
	}
	w.pending[event.Name] = time.AfterFunc(w.config.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.pending, event.Name)
		w.debounceMu.Unlock()

		w.submitFile(event.Name)
	})
	w.debounceMu.Unlock()
}

func (w *Watcher) submitFile(path string) {
	if w.ctx.Err() != nil {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Removed before it settled.
		return
	}
	if info.IsDir() {
		return
	}
	if w.config.MaxFileBytes > 0 && info.Size() > w.config.MaxFileBytes {
		w.logger.Warn("skipping oversized file", map[string]interface{}{
			"path": path,
			"size": info.Size(),
		})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read watched file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return
	}
	if len(data) == 0 {
		return
	}

	w.handler(w.ctx, content.FileBlob{
		Bytes:        data,
		OriginalName: filepath.Base(path),
		LastModified: info.ModTime(),
		SizeBytes:    int64(len(data)),
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	filename := filepath.Base(path)

	for _, pattern := range w.config.ExcludePatterns {
		if matched, _ := filepath.Match(pattern, filename); matched {
			return true
		}
	}

	if len(w.config.IncludePatterns) > 0 {
		for _, pattern := range w.config.IncludePatterns {
			if matched, _ := filepath.Match(pattern, filename); matched {
				return false
			}
		}
		return true
	}

	return false
}
