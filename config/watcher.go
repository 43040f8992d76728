// 图定义文件变更监听器实现。
//
// 通过轮询监听文件或目录，防抖后触发回调，用于运行时重新注册图定义。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
)

// --- 文件监听器类型定义 ---

// FileWatcher polls files and directories for changes. A watched directory
// contributes every regular file matching the extension filter.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	extensions    map[string]bool
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	// 回调
	callbacks []func(event FileEvent)

	logger *zap.Logger

	lastModTimes map[string]time.Time
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval sets how often watched paths are scanned
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithExtensions restricts directory scans to the given extensions (".yaml").
func WithExtensions(exts ...string) WatcherOption {
	return func(w *FileWatcher) {
		w.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			w.extensions[strings.ToLower(e)] = true
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		debounceDelay: 100 * time.Millisecond,
		pollInterval:  time.Second,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 100),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
			w.logger.Warn("watched path does not exist, will watch for creation",
				zap.String("path", abs))
		}
		w.paths = append(w.paths, abs)
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	for file, mod := range w.scan() {
		w.lastModTimes[file] = mod
	}
	stop := w.stopChan
	w.mu.Unlock()

	go w.pollLoop(ctx, stop)
	go w.dispatchLoop(ctx, stop)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.Paths()),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) pollLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, evt := range w.checkFiles() {
				select {
				case w.eventChan <- evt:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// scan returns the modification time of every file currently covered by the
// watched paths. Caller holds w.mu.
func (w *FileWatcher) scan() map[string]time.Time {
	files := make(map[string]time.Time)
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			files[path] = info.ModTime()
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			w.logger.Warn("failed to read watched directory", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, ent := range entries {
			if ent.IsDir() || !w.matches(ent.Name()) {
				continue
			}
			fi, err := ent.Info()
			if err != nil {
				continue
			}
			files[filepath.Join(path, ent.Name())] = fi.ModTime()
		}
	}
	return files
}

func (w *FileWatcher) matches(name string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(name))]
}

// checkFiles diffs the current scan against the last one.
func (w *FileWatcher) checkFiles() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	current := w.scan()
	var events []FileEvent

	for file, mod := range current {
		last, existed := w.lastModTimes[file]
		switch {
		case !existed:
			events = append(events, FileEvent{Path: file, Op: FileOpCreate, Timestamp: now})
		case mod.After(last):
			events = append(events, FileEvent{Path: file, Op: FileOpWrite, Timestamp: now})
		}
	}
	for file := range w.lastModTimes {
		if _, ok := current[file]; !ok {
			events = append(events, FileEvent{Path: file, Op: FileOpRemove, Timestamp: now})
		}
	}
	w.lastModTimes = current

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// dispatchLoop coalesces events per path and fires callbacks once the
// debounce delay passes without new events.
func (w *FileWatcher) dispatchLoop(ctx context.Context, stop <-chan struct{}) {
	pending := make(map[string]FileEvent)
	timer := time.NewTimer(w.debounceDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event := <-w.eventChan:
			pending[event.Path] = event
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			w.mu.RLock()
			callbacks := make([]func(FileEvent), len(w.callbacks))
			copy(callbacks, w.callbacks)
			w.mu.RUnlock()

			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				evt := pending[p]
				w.logger.Debug("dispatching file event",
					zap.String("path", p),
					zap.String("op", evt.Op.String()))
				for _, cb := range callbacks {
					cb(evt)
				}
			}
			pending = make(map[string]FileEvent)
		}
	}
}

// AddPath adds a new path to watch
func (w *FileWatcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.paths {
		if p == absPath {
			return nil
		}
	}
	w.paths = append(w.paths, absPath)
	for file, mod := range w.scan() {
		if _, ok := w.lastModTimes[file]; !ok {
			w.lastModTimes[file] = mod
		}
	}

	w.logger.Info("added path to watcher", zap.String("path", absPath))
	return nil
}

// RemovePath removes a path from watching
func (w *FileWatcher) RemovePath(path string) error {
	absPath, _ := filepath.Abs(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, p := range w.paths {
		if p == absPath {
			w.paths = append(w.paths[:i], w.paths[i+1:]...)
			w.lastModTimes = w.scan()
			w.logger.Info("removed path from watcher", zap.String("path", absPath))
			return nil
		}
	}

	return fmt.Errorf("path not found: %s", path)
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// --- 图定义同步 ---

// DefinitionRegistrar accepts parsed graph definitions.
type DefinitionRegistrar interface {
	RegisterDefinition(def *graph.GraphDefinition) error
}

// DefinitionExtensions are the file types treated as graph definitions.
var DefinitionExtensions = []string{".yaml", ".yml", ".json"}

// NewDefinitionWatcher watches cfg.Dir and re-registers each created or
// modified definition with reg. Removing a file leaves the graph registered.
func NewDefinitionWatcher(cfg GraphsConfig, reg DefinitionRegistrar, logger *zap.Logger) (*FileWatcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("graphs dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := NewFileWatcher([]string{cfg.Dir},
		WithExtensions(DefinitionExtensions...),
		WithPollInterval(cfg.PollInterval),
		WithWatcherLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			logger.Info("graph definition removed; graph stays registered", zap.String("path", evt.Path))
			return
		}
		def, err := graph.LoadDefinitionFile(evt.Path)
		if err != nil {
			logger.Warn("failed to load graph definition", zap.String("path", evt.Path), zap.Error(err))
			return
		}
		if err := reg.RegisterDefinition(def); err != nil {
			logger.Warn("failed to register graph definition",
				zap.String("path", evt.Path), zap.String("graph_id", def.ID), zap.Error(err))
			return
		}
		logger.Info("graph definition reloaded",
			zap.String("graph_id", def.ID), zap.String("op", evt.Op.String()))
	})
	return w, nil
}
