package liveness

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/stackr/internal/metrics"
)

// DefaultInterval is the periodic recheck period.
const DefaultInterval = 3 * time.Second

// Checker reports, for each path, whether it currently exists.
type Checker interface {
	CheckPaths(paths []string) map[string]bool
}

// OSChecker stats each path on the local filesystem.
type OSChecker struct{}

func (OSChecker) CheckPaths(paths []string) map[string]bool {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		fi, err := os.Stat(p)
		out[p] = err == nil && fi.IsDir()
	}
	return out
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(paths []string) map[string]bool

func (f CheckerFunc) CheckPaths(paths []string) map[string]bool { return f(paths) }

// Config controls the monitor.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// Watch enables fsnotify on the parent directories of project paths so
	// removals are noticed before the next tick.
	Watch bool `mapstructure:"watch"`
}

// Monitor tracks whether project folders exist. It only writes its own map
// and never touches run status.
type Monitor struct {
	cfg     Config
	source  func() []string
	checker Checker
	logger  *slog.Logger

	mu     sync.RWMutex
	exists map[string]bool

	// onChange is called outside mu whenever a path flips.
	onChange func(path string, exists bool)

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]struct{}

	kick chan struct{}
}

// New returns a monitor over the paths produced by source. A nil checker
// uses OSChecker.
func New(cfg Config, source func() []string, checker Checker, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if checker == nil {
		checker = OSChecker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		source:  source,
		checker: checker,
		logger:  logger,
		exists:  make(map[string]bool),
		watched: make(map[string]struct{}),
		kick:    make(chan struct{}, 1),
	}
}

// OnChange registers a callback for path flips. Must be set before Run.
func (m *Monitor) OnChange(fn func(path string, exists bool)) { m.onChange = fn }

// Missing reports whether path was found absent by the last check. Paths not
// yet checked are not considered missing.
func (m *Monitor) Missing(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ok, known := m.exists[path]
	return known && !ok
}

// Snapshot returns a copy of the path -> exists map.
func (m *Monitor) Snapshot() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.exists))
	for k, v := range m.exists {
		out[k] = v
	}
	return out
}

// Trigger requests an out-of-band check from the Run loop.
func (m *Monitor) Trigger() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// CheckNow runs one check synchronously and replaces the map with the result.
func (m *Monitor) CheckNow() {
	paths := m.source()
	res := m.checker.CheckPaths(paths)

	type flip struct {
		path   string
		exists bool
	}
	var flips []flip
	missing := 0
	m.mu.Lock()
	next := make(map[string]bool, len(paths))
	for _, p := range paths {
		ok := res[p]
		next[p] = ok
		if !ok {
			missing++
		}
		if prev, known := m.exists[p]; known && prev != ok {
			flips = append(flips, flip{p, ok})
		} else if !known && !ok {
			flips = append(flips, flip{p, ok})
		}
	}
	m.exists = next
	m.mu.Unlock()

	metrics.SetMissingPaths(missing)
	for _, f := range flips {
		if f.exists {
			m.logger.Info("project path restored", "path", f.path)
		} else {
			m.logger.Warn("project path missing", "path", f.path)
		}
		if m.onChange != nil {
			m.onChange(f.path, f.exists)
		}
	}
	m.syncWatches(paths)
}

// Run checks immediately, then on every tick, trigger or filesystem event
// until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		} else {
			m.watchMu.Lock()
			m.watcher = w
			m.watchMu.Unlock()
			defer func() {
				m.watchMu.Lock()
				_ = m.watcher.Close()
				m.watcher = nil
				m.watched = make(map[string]struct{})
				m.watchMu.Unlock()
			}()
		}
	}
	m.CheckNow()

	var events <-chan fsnotify.Event
	var errs <-chan error
	m.watchMu.Lock()
	if m.watcher != nil {
		events, errs = m.watcher.Events, m.watcher.Errors
	}
	m.watchMu.Unlock()

	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.CheckNow()
		case <-m.kick:
			m.CheckNow()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Create) {
				m.unwatch(ev.Name)
				m.CheckNow()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				m.logger.Debug("fsnotify error", "error", err)
			}
			m.CheckNow()
		}
	}
}

// unwatch forgets a watched directory that was itself removed; the kernel
// drops such watches on its own.
func (m *Monitor) unwatch(name string) {
	m.watchMu.Lock()
	delete(m.watched, filepath.Clean(name))
	m.watchMu.Unlock()
}

// syncWatches keeps one watch per existing parent directory of the tracked
// paths.
func (m *Monitor) syncWatches(paths []string) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watcher == nil {
		return
	}
	want := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		want[filepath.Dir(filepath.Clean(p))] = struct{}{}
	}
	for dir := range m.watched {
		if _, ok := want[dir]; !ok {
			_ = m.watcher.Remove(dir)
			delete(m.watched, dir)
		}
	}
	for dir := range want {
		if _, ok := m.watched[dir]; ok {
			continue
		}
		if err := m.watcher.Add(dir); err != nil {
			continue
		}
		m.watched[dir] = struct{}{}
	}
}
