package manager

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/stackr/internal/history"
	"github.com/loykin/stackr/internal/metrics"
	"github.com/loykin/stackr/internal/process"
	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/registry"
	"github.com/loykin/stackr/internal/runtimecfg"
	"github.com/loykin/stackr/internal/store"
)

// Resolver maps a version reference to a runtime bin directory.
// *version.Resolver implements it.
type Resolver interface {
	ResolveOrGlobal(ref string) (dir string, fellBack bool, cause error)
	Global() (string, error)
}

// PathChecker answers whether a project folder was last seen missing.
// *liveness.Monitor implements it.
type PathChecker interface {
	Missing(path string) bool
}

// RouteTable maps project domains to local ports. *proxy.Router implements it.
type RouteTable interface {
	Register(domain string, port int) error
	Unregister(domain string)
}

// HostsEditor maps domains to the loopback address. *hosts.File implements it.
type HostsEditor interface {
	AddEntry(domain string) error
	RemoveEntry(domain string) error
}

// Options wires the manager's collaborators. Only Spawner is required.
type Options struct {
	Spawner process.Spawner
	Store   store.Store
	// Resolver serves projects; ServiceResolver, when set, serves global
	// services by runtime name and otherwise falls back to Resolver.
	Resolver        Resolver
	ServiceResolver func(runtime string) Resolver
	Liveness        PathChecker
	Proxy           RouteTable
	Hosts           HostsEditor
	History         *history.Dispatcher
	// PrepareRuntime primes the interpreter config in a bin dir before a
	// project start. Defaults to runtimecfg.Prepare.
	PrepareRuntime func(binDir string) (bool, error)

	Services []project.GlobalService
	BasePort int
	// AllowConcurrentIntents disables per-id serialization of start/stop
	// intents. Overlapping intents for one id then race.
	AllowConcurrentIntents bool
	Logger                 *slog.Logger
}

// View is a project together with its live state.
type View struct {
	project.Project
	Status  registry.Status `json:"status"`
	Error   string          `json:"error,omitempty"`
	PID     int             `json:"pid,omitempty"`
	Missing bool            `json:"missing"`
}

// ServiceView is a global service together with its live state.
type ServiceView struct {
	project.GlobalService
	Status registry.Status `json:"status"`
	Error  string          `json:"error,omitempty"`
	PID    int             `json:"pid,omitempty"`
}

// Manager is the lifecycle controller. It owns the registry and the
// project list and drives the spawner.
type Manager struct {
	opts Options
	log  *slog.Logger
	reg  *registry.Registry

	mu       sync.RWMutex
	projects map[string]project.Project
	services map[string]project.GlobalService
	svcOrder []string

	// serializes store writes so the file always reflects the latest list
	persistMu sync.Mutex

	intentMu sync.Mutex
	intents  map[string]*sync.Mutex

	reconMu   sync.Mutex
	reconStop chan struct{}
}

func New(opts Options) (*Manager, error) {
	if opts.Spawner == nil {
		return nil, errors.New("manager: spawner required")
	}
	if opts.BasePort == 0 {
		opts.BasePort = project.DefaultBasePort
	}
	if opts.PrepareRuntime == nil {
		opts.PrepareRuntime = runtimecfg.Prepare
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		opts:     opts,
		log:      opts.Logger,
		reg:      registry.New(),
		projects: make(map[string]project.Project),
		services: make(map[string]project.GlobalService),
		intents:  make(map[string]*sync.Mutex),
	}
	for _, s := range opts.Services {
		if _, dup := m.services[s.ID]; dup {
			return nil, errors.New("manager: duplicate service id " + s.ID)
		}
		m.services[s.ID] = s
		m.svcOrder = append(m.svcOrder, s.ID)
		m.reg.Ensure(s.ID)
	}

	m.reg.OnTransition(func(ev registry.Event) {
		metrics.RecordStateTransition(ev.ID, ev.From.String(), ev.To.String())
		if opts.History != nil {
			if he, ok := history.FromTransition(ev); ok {
				opts.History.Enqueue(he)
			}
		}
	})
	if n, ok := opts.Spawner.(interface{ OnExit(func(string, error)) }); ok {
		n.OnExit(m.handleExit)
	}
	return m, nil
}

// Registry exposes the status registry for read access.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Subscribe streams status transitions. Call cancel to release the channel.
func (m *Manager) Subscribe(buf int) (<-chan registry.Event, func()) {
	return m.reg.Subscribe(buf)
}

// Status returns the registry entry for a project or service id.
func (m *Manager) Status(id string) (registry.Entry, error) {
	e, err := m.reg.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		return e, ErrUnknownProject
	}
	return e, err
}

// Project returns one project with its state.
func (m *Manager) Project(id string) (View, error) {
	m.mu.RLock()
	p, ok := m.projects[id]
	m.mu.RUnlock()
	if !ok {
		return View{}, ErrUnknownProject
	}
	return m.view(p), nil
}

func (m *Manager) view(p project.Project) View {
	v := View{Project: p, Status: registry.StatusStopped}
	if e, err := m.reg.Get(p.ID); err == nil {
		v.Status, v.Error, v.PID = e.Status, e.Error, e.PID
	}
	if m.opts.Liveness != nil {
		v.Missing = m.opts.Liveness.Missing(p.Path)
	}
	return v
}

// Projects returns every project sorted by id.
func (m *Manager) Projects() []View {
	list := m.projectList()
	out := make([]View, 0, len(list))
	for _, p := range list {
		out = append(out, m.view(p))
	}
	return out
}

func (m *Manager) projectList() []project.Project {
	m.mu.RLock()
	out := make([]project.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProjectPaths returns the folder of every project, for the liveness monitor.
func (m *Manager) ProjectPaths() []string {
	list := m.projectList()
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.Path)
	}
	return out
}

// Services returns the global services in configuration order.
func (m *Manager) Services() []ServiceView {
	out := make([]ServiceView, 0, len(m.svcOrder))
	for _, id := range m.svcOrder {
		v := ServiceView{GlobalService: m.services[id], Status: registry.StatusStopped}
		if e, err := m.reg.Get(id); err == nil {
			v.Status, v.Error, v.PID = e.Status, e.Error, e.PID
		}
		out = append(out, v)
	}
	return out
}

// Load replaces the project list with the store's content. Every project
// starts out stopped.
func (m *Manager) Load(ctx context.Context) error {
	if m.opts.Store == nil {
		return nil
	}
	if err := m.opts.Store.EnsureSchema(ctx); err != nil {
		return err
	}
	list, err := m.opts.Store.LoadProjects(ctx)
	if err != nil {
		return err
	}
	loaded := make(map[string]project.Project, len(list))
	for _, p := range list {
		p.Normalize()
		if err := p.Validate(); err != nil {
			m.log.Warn("skipping stored project", "id", p.ID, "error", err)
			continue
		}
		loaded[p.ID] = p
	}
	m.mu.Lock()
	old := m.projects
	m.projects = loaded
	m.mu.Unlock()
	for id := range old {
		if _, keep := loaded[id]; !keep {
			m.reg.Delete(id)
		}
	}
	for id := range loaded {
		m.reg.Reset(id)
	}
	metrics.SetProjects(len(loaded))
	m.kickLiveness()
	m.log.Info("projects loaded", "count", len(loaded))
	return nil
}

func (m *Manager) kickLiveness() {
	if t, ok := m.opts.Liveness.(interface{ Trigger() }); ok {
		t.Trigger()
	}
}

// lockIntent serializes intents for one id unless disabled. Distinct ids
// get distinct mutexes.
func (m *Manager) lockIntent(id string) func() {
	if m.opts.AllowConcurrentIntents {
		return func() {}
	}
	m.intentMu.Lock()
	mu, ok := m.intents[id]
	if !ok {
		mu = &sync.Mutex{}
		m.intents[id] = mu
	}
	m.intentMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// handleExit reconciles a process that died without being asked to.
func (m *Manager) handleExit(id string, err error) {
	msg := "process exited"
	if err != nil {
		msg = "process exited: " + err.Error()
	}
	e, uerr := m.reg.Update(id, func(e *registry.Entry) {
		if e.Status == registry.StatusRunning {
			e.Status = registry.StatusError
			e.Error = msg
			e.PID = 0
		}
	})
	if uerr == nil && e.Status == registry.StatusError && e.Error == msg {
		m.log.Warn("service exited unexpectedly", "id", id, "error", err)
	}
}

// ReconcileOnce marks running ids whose process is no longer alive as
// errored. It catches exits that raced with a start.
func (m *Manager) ReconcileOnce() {
	for _, e := range m.reg.List() {
		if e.Status != registry.StatusRunning || m.opts.Spawner.Alive(e.ID) {
			continue
		}
		m.handleExit(e.ID, errors.New("lost (reconciler)"))
	}
}

// StartReconciler starts a background loop that periodically calls ReconcileOnce.
func (m *Manager) StartReconciler(interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	m.reconMu.Lock()
	if m.reconStop != nil {
		m.reconMu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.reconStop = stop
	m.reconMu.Unlock()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.ReconcileOnce()
			case <-stop:
				return
			}
		}
	}()
}

// StopReconciler stops the background reconcile loop if running.
func (m *Manager) StopReconciler() {
	m.reconMu.Lock()
	ch := m.reconStop
	m.reconStop = nil
	m.reconMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Shutdown stops the reconciler and every service that is running or
// starting.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopReconciler()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range m.reg.List() {
		if e.Status != registry.StatusRunning && e.Status != registry.StatusStarting && !m.opts.Spawner.Alive(e.ID) {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.stop(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(e.ID)
	}
	wg.Wait()
	return errors.Join(errs...)
}
