package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/stackr/internal/metrics"
	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/registry"
	"github.com/loykin/stackr/internal/store"
)

var ErrInvalidArgument = errors.New("invalid argument")

// AddOptions overrides the values AddProject would otherwise derive.
type AddOptions struct {
	Name    string
	Kind    project.Kind // empty detects from marker files
	Domain  string
	Version string
	Port    int // zero allocates the next free port
}

func (m *Manager) lookupProject(id string) (project.Project, bool) {
	m.mu.RLock()
	p, ok := m.projects[id]
	m.mu.RUnlock()
	return p, ok
}

// AddProject imports an existing folder as a new project.
func (m *Manager) AddProject(ctx context.Context, path string, o AddOptions) (project.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return project.Project{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return project.Project{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !fi.IsDir() {
		return project.Project{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, abs)
	}
	kind := o.Kind
	if kind == "" {
		kind = project.DetectKind(abs)
	}
	p := project.Project{
		ID:      project.NewID(),
		Name:    strings.TrimSpace(o.Name),
		Path:    abs,
		Kind:    kind,
		Domain:  strings.ToLower(strings.TrimSpace(o.Domain)),
		Version: strings.TrimSpace(o.Version),
		Port:    o.Port,
	}

	m.mu.Lock()
	if p.Port == 0 {
		list := make([]project.Project, 0, len(m.projects))
		for _, q := range m.projects {
			list = append(list, q)
		}
		p.Port = project.NextPort(list, m.opts.BasePort)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		m.mu.Unlock()
		return project.Project{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	m.projects[p.ID] = p
	n := len(m.projects)
	m.mu.Unlock()

	m.reg.Reset(p.ID)
	metrics.SetProjects(n)
	m.kickLiveness()
	m.log.Info("project added", "id", p.ID, "path", p.Path, "kind", p.Kind, "port", p.Port)
	return p, m.persist(ctx, "add")
}

// RemoveProject forgets a project. Files on disk are left alone; a running
// process is stopped on a best-effort basis.
func (m *Manager) RemoveProject(ctx context.Context, id string) error {
	p, ok := m.lookupProject(id)
	if !ok {
		return ErrUnknownProject
	}
	unlock := m.lockIntent(id)
	defer unlock()

	if m.opts.Spawner.Alive(id) {
		if err := m.opts.Spawner.Stop(ctx, id); err != nil {
			m.log.Warn("stop before remove failed", "id", id, "error", err)
		}
	}
	if !p.IsLocal() {
		m.unpublishDomain(p.Domain)
	}

	m.mu.Lock()
	delete(m.projects, id)
	n := len(m.projects)
	m.mu.Unlock()
	m.reg.Delete(id)
	metrics.Forget(id)
	metrics.SetProjects(n)
	m.kickLiveness()
	m.log.Info("project removed", "id", id)

	if m.opts.Store == nil {
		return nil
	}
	if err := m.opts.Store.DeleteProject(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return &PersistenceError{Op: "remove", Err: err}
	}
	return nil
}

// Relocate points a project at a new folder. Any process started from the
// old path is orphaned, so status is forced to stopped.
func (m *Manager) Relocate(ctx context.Context, id, newPath string) error {
	abs, err := filepath.Abs(newPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	unlock := m.lockIntent(id)
	defer unlock()
	if _, ok := m.lookupProject(id); !ok {
		return ErrUnknownProject
	}
	if m.opts.Spawner.Alive(id) {
		if err := m.opts.Spawner.Stop(ctx, id); err != nil {
			m.log.Warn("stop before relocate failed", "id", id, "error", err)
		}
	}
	m.mu.Lock()
	p := m.projects[id]
	old := p.Path
	p.Path = abs
	m.projects[id] = p
	m.mu.Unlock()

	m.reg.Set(id, registry.StatusStopped, nil)
	m.kickLiveness()
	m.log.Info("project relocated", "id", id, "from", old, "to", abs)
	return m.persist(ctx, "relocate")
}

// SetPort changes the port a project listens on. A running process keeps
// its old port until restarted.
func (m *Manager) SetPort(ctx context.Context, id string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidArgument, port)
	}
	if err := m.mutate(id, func(p *project.Project) { p.Port = port }); err != nil {
		return err
	}
	return m.persist(ctx, "set port")
}

// SetVersion pins a project to a runtime version, or "global" to follow
// the active one. Unknown versions are accepted and fall back at start.
func (m *Manager) SetVersion(ctx context.Context, id, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = project.GlobalVersion
	}
	if err := m.mutate(id, func(p *project.Project) { p.Version = ref }); err != nil {
		return err
	}
	return m.persist(ctx, "set version")
}

// SetDomain changes the hostname a project is reachable under. "local"
// means 127.0.0.1:<port> only.
func (m *Manager) SetDomain(ctx context.Context, id, domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		domain = project.LocalDomain
	}
	if strings.ContainsAny(domain, " \t/:") {
		return fmt.Errorf("%w: domain %q", ErrInvalidArgument, domain)
	}
	var before, after project.Project
	err := m.mutate(id, func(p *project.Project) {
		before = *p
		p.Domain = domain
		after = *p
	})
	if err != nil {
		return err
	}
	if before.Domain != after.Domain {
		if !before.IsLocal() {
			m.unpublishDomain(before.Domain)
		}
		if e, gerr := m.reg.Get(id); gerr == nil && e.Status == registry.StatusRunning && !after.IsLocal() {
			m.publishDomain(after.Domain, after.Port)
		}
	}
	return m.persist(ctx, "set domain")
}

func (m *Manager) mutate(id string, fn func(*project.Project)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrUnknownProject
	}
	fn(&p)
	m.projects[id] = p
	return nil
}

// persist writes the current project list. The in-memory state is kept
// when the write fails.
func (m *Manager) persist(ctx context.Context, op string) error {
	if m.opts.Store == nil {
		return nil
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.opts.Store.SaveProjects(ctx, m.projectList()); err != nil {
		m.log.Error("persist failed", "op", op, "error", err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}
