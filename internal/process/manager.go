package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/loykin/stackr/internal/detector"
	"github.com/loykin/stackr/internal/env"
	"github.com/loykin/stackr/internal/launch"
	"github.com/loykin/stackr/internal/logger"
)

// Defaults for Config zero values.
const (
	DefaultStopTimeout   = 5 * time.Second
	DefaultReadyTimeout  = 60 * time.Second
	DefaultReadyInterval = 500 * time.Millisecond
)

// Config controls how children are launched and reaped.
type Config struct {
	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	// ReadyTimeout bounds the wait for a child's port to accept connections.
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	ReadyInterval time.Duration `mapstructure:"ready_interval"`
	// ExtraPaths are prepended to PATH for every child.
	ExtraPaths []string `mapstructure:"extra_paths"`
	// Env holds global KEY=VALUE overrides.
	Env []string `mapstructure:"env"`
	// Log routes child stdout/stderr to rotating files when Dir is set.
	Log logger.FileConfig `mapstructure:"log"`
}

// Manager is the default Spawner backed by os/exec.
type Manager struct {
	cfg    Config
	env    *env.Env
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*proc

	onExit func(id string, err error)
}

func NewManager(cfg Config, log *slog.Logger) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = DefaultReadyInterval
	}
	if log == nil {
		log = slog.Default()
	}
	e := env.New()
	e.AddPath(cfg.ExtraPaths...)
	e.SetAll(cfg.Env)
	return &Manager{cfg: cfg, env: e, logger: log, procs: make(map[string]*proc)}
}

// OnExit registers a callback for children that exit without a Stop call.
// It runs on the reaper goroutine.
func (m *Manager) OnExit(fn func(id string, err error)) {
	m.mu.Lock()
	m.onExit = fn
	m.mu.Unlock()
}

// claim reserves id for a new start. A tracked process that already exited
// is replaced.
func (m *Manager) claim(id string, spec launch.Spec) (*proc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.procs[id]; cur != nil {
		select {
		case <-cur.done:
		default:
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
		}
	}
	p := newProc(id, spec)
	m.procs[id] = p
	return p, nil
}

// release drops p if it is still the tracked process for its id.
func (m *Manager) release(p *proc) {
	m.mu.Lock()
	if m.procs[p.id] == p {
		delete(m.procs, p.id)
	}
	m.mu.Unlock()
}

// Start launches spec under id and, when spec.Port is set, waits until the
// port accepts connections. ctx bounds only that wait.
func (m *Manager) Start(ctx context.Context, id string, spec launch.Spec) (Handle, error) {
	p, err := m.claim(id, spec)
	if err != nil {
		return Handle{}, err
	}
	h, err := m.start(ctx, p)
	if err != nil {
		m.release(p)
		return Handle{}, err
	}
	return h, nil
}

func (m *Manager) start(ctx context.Context, p *proc) (Handle, error) {
	spec := p.spec
	if spec.Port > 0 {
		if busy, _ := (detector.PortDetector{Port: spec.Port}).Alive(); busy {
			if o, ok := detector.PortOwner(ctx, spec.Port); ok {
				return Handle{}, fmt.Errorf("%w: %d held by %s", ErrPortInUse, spec.Port, o)
			}
			return Handle{}, fmt.Errorf("%w: %d", ErrPortInUse, spec.Port)
		}
	}

	// #nosec G204 executable and args come from the launch table
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = m.env.ForExecutable(spec.Executable, spec.Env)
	configureSysProcAttr(cmd)
	if err := m.attachOutput(p, cmd); err != nil {
		m.logger.Warn("service output not captured", "id", p.id, "error", err)
	}

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return Handle{}, fmt.Errorf("spawn %s: %w", spec.Executable, err)
	}
	p.setStarted(cmd)
	go m.reap(p)

	m.logger.Info("service process started", "id", p.id, "pid", cmd.Process.Pid, "argv", spec.Argv(), "dir", spec.WorkDir)

	if spec.Port > 0 {
		rctx, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
		defer cancel()
		d := detector.PortDetector{Port: spec.Port}
		if err := detector.WaitReady(rctx, d, m.cfg.ReadyInterval, p.exited); err != nil {
			p.markStopping()
			if p.running() {
				_ = m.terminate(context.Background(), p)
			}
			return Handle{}, err
		}
	}
	return Handle{ID: p.id, PID: cmd.Process.Pid, StartedAt: p.snapshot().StartedAt}, nil
}

func (m *Manager) attachOutput(p *proc, cmd *exec.Cmd) error {
	// nil Stdout/Stderr send output to the null device
	outW, errW, err := m.cfg.Log.Writers(p.id)
	if err != nil {
		return err
	}
	p.outW, p.errW = outW, errW
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}
	return nil
}

func (m *Manager) reap(p *proc) {
	err := p.wait()
	if p.stopRequested() {
		return
	}
	m.logger.Warn("service process exited", "id", p.id, "pid", p.pid(), "error", err)
	m.mu.Lock()
	cb := m.onExit
	m.mu.Unlock()
	if cb != nil {
		cb(p.id, err)
	}
}

// terminate signals the group, escalates to SIGKILL after StopTimeout and
// waits for the reaper.
func (m *Manager) terminate(ctx context.Context, p *proc) error {
	pid := p.pid()
	if err := terminateGroup(pid); err != nil {
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(m.cfg.StopTimeout):
	case <-ctx.Done():
	}
	m.logger.Warn("service did not exit in time, killing", "id", p.id, "pid", pid)
	if err := killGroup(pid); err != nil {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("process %d did not exit after kill", pid)
	}
}

// Stop terminates the process tracked under id.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	p := m.procs[id]
	m.mu.Unlock()
	if p == nil || !p.running() {
		// a start still spawning keeps its claim
		if p != nil && !p.pending() {
			m.release(p)
		}
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	p.markStopping()
	if err := m.terminate(ctx, p); err != nil {
		return err
	}
	m.release(p)
	m.logger.Info("service process stopped", "id", id, "pid", p.pid())
	return nil
}

// Alive reports whether a live process is tracked for id.
func (m *Manager) Alive(id string) bool {
	m.mu.Lock()
	p := m.procs[id]
	m.mu.Unlock()
	return p != nil && p.running()
}

// Status returns the tracked process for id, if any.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.Lock()
	p := m.procs[id]
	m.mu.Unlock()
	if p == nil {
		return Status{}, false
	}
	return p.snapshot(), true
}

// PIDs returns id -> pid for every live process.
func (m *Manager) PIDs() map[string]int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int32, len(m.procs))
	for id, p := range m.procs {
		if p.running() {
			out[id] = int32(p.pid())
		}
	}
	return out
}

// IDs returns the ids of live processes, sorted.
func (m *Manager) IDs() []string {
	pids := m.PIDs()
	out := make([]string, 0, len(pids))
	for id := range pids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StopAll stops every live process concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	ids := m.IDs()
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
				errs[i] = err
			}
		}(i, id)
	}
	wg.Wait()
	return errors.Join(errs...)
}
