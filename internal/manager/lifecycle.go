package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/loykin/stackr/internal/datadir"
	"github.com/loykin/stackr/internal/launch"
	"github.com/loykin/stackr/internal/metrics"
	"github.com/loykin/stackr/internal/process"
	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/registry"
)

// StartProject launches a registered project.
func (m *Manager) StartProject(ctx context.Context, id string) error {
	p, ok := m.lookupProject(id)
	if !ok {
		return ErrUnknownProject
	}
	unlock := m.lockIntent(id)
	defer unlock()

	if m.opts.Liveness != nil && m.opts.Liveness.Missing(p.Path) {
		return &PathMissingError{ID: id, Path: p.Path}
	}

	err := m.start(ctx, id, func() (launch.Spec, error) {
		binDir := m.resolveBin(id, m.opts.Resolver, p.Version)
		spec, err := launch.ForProject(p, binDir)
		if err != nil {
			return launch.Spec{}, err
		}
		if binDir != "" {
			if changed, perr := m.opts.PrepareRuntime(binDir); perr != nil {
				m.log.Warn("runtime config not prepared", "id", id, "bin", binDir, "error", perr)
			} else if changed {
				m.log.Info("runtime config prepared", "bin", binDir)
			}
		}
		return spec, nil
	})
	if err != nil {
		return err
	}
	if !p.IsLocal() {
		m.publishDomain(p.Domain, p.Port)
	}
	return nil
}

// StopProject stops a project's process.
func (m *Manager) StopProject(ctx context.Context, id string) error {
	if _, ok := m.lookupProject(id); !ok {
		return ErrUnknownProject
	}
	unlock := m.lockIntent(id)
	defer unlock()
	return m.stop(ctx, id)
}

// StartService launches one of the global services.
func (m *Manager) StartService(ctx context.Context, id string) error {
	s, ok := m.services[id]
	if !ok {
		return ErrUnknownService
	}
	unlock := m.lockIntent(id)
	defer unlock()

	r := m.opts.Resolver
	if m.opts.ServiceResolver != nil {
		if sr := m.opts.ServiceResolver(s.Runtime); sr != nil {
			r = sr
		}
	}
	return m.start(ctx, id, func() (launch.Spec, error) {
		binDir := m.resolveBin(id, r, project.GlobalVersion)
		if s.DataDir != "" && s.SeedDir != "" && binDir != "" {
			seed := filepath.Join(binDir, s.SeedDir)
			copied, err := datadir.Seed(seed, s.DataDir)
			switch {
			case err != nil && !errors.Is(err, datadir.ErrNoSeed):
				return launch.Spec{}, err
			case err != nil:
				m.log.Warn("no data template to seed from", "id", id, "seed", seed)
			case copied:
				m.log.Info("seeded service data dir", "id", id, "dir", s.DataDir, "from", seed)
			}
		}
		return launch.ForService(s, binDir), nil
	})
}

// StopService stops one of the global services.
func (m *Manager) StopService(ctx context.Context, id string) error {
	if _, ok := m.services[id]; !ok {
		return ErrUnknownService
	}
	unlock := m.lockIntent(id)
	defer unlock()
	return m.stop(ctx, id)
}

// resolveBin returns the runtime bin dir for ref, falling back to the active
// version. An empty result leaves the executable to PATH lookup.
func (m *Manager) resolveBin(id string, r Resolver, ref string) string {
	if r == nil {
		return ""
	}
	dir, fellBack, cause := r.ResolveOrGlobal(ref)
	switch {
	case fellBack && dir != "":
		m.log.Warn("version unavailable, using global", "id", id, "version", ref, "bin", dir, "error", cause)
		metrics.IncVersionFallback(id)
	case cause != nil:
		m.log.Warn("no runtime version resolved, using PATH", "id", id, "version", ref, "error", cause)
	}
	return dir
}

// start runs the starting -> running|error transition. starting is set
// before build resolves the launch spec, so every accepted intent is
// observable. The caller holds the intent lock.
func (m *Manager) start(ctx context.Context, id string, build func() (launch.Spec, error)) (err error) {
	m.reg.Set(id, registry.StatusStarting, nil)
	begin := time.Now()
	settled := false
	defer func() {
		if settled {
			return
		}
		// a panic must not leave the id in starting
		m.reg.Set(id, registry.StatusError, errors.New("start aborted"))
		if r := recover(); r != nil {
			err = &ProcessStartError{ID: id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	spec, berr := build()
	if berr != nil {
		m.reg.Set(id, registry.StatusError, berr)
		settled = true
		metrics.IncStartFailure(id)
		m.log.Error("start failed", "id", id, "error", berr)
		return &ProcessStartError{ID: id, Err: berr}
	}

	m.log.Info("starting", "id", id, "cmd", spec.Executable, "args", spec.Args, "port", spec.Port)
	h, serr := m.opts.Spawner.Start(ctx, id, spec)
	if serr != nil {
		m.reg.Set(id, registry.StatusError, serr)
		settled = true
		metrics.IncStartFailure(id)
		m.log.Error("start failed", "id", id, "error", serr)
		return &ProcessStartError{ID: id, Err: serr}
	}
	_, uerr := m.reg.Update(id, func(e *registry.Entry) {
		e.Status = registry.StatusRunning
		e.Error = ""
		e.PID = h.PID
	})
	if uerr != nil {
		m.reg.Set(id, registry.StatusRunning, nil)
	}
	settled = true
	metrics.IncStart(id)
	metrics.ObserveStartDuration(id, time.Since(begin).Seconds())
	m.log.Info("running", "id", id, "pid", h.PID)
	return nil
}

// stop asks the spawner to stop id. A process that is already gone counts
// as stopped; any other failure leaves the status as it was.
func (m *Manager) stop(ctx context.Context, id string) error {
	err := m.opts.Spawner.Stop(ctx, id)
	if err != nil && !errors.Is(err, process.ErrNotRunning) {
		m.log.Error("stop failed", "id", id, "error", err)
		return &ProcessStopError{ID: id, Err: err}
	}
	m.reg.Set(id, registry.StatusStopped, nil)
	metrics.IncStop(id)
	m.log.Info("stopped", "id", id)
	return nil
}

// publishDomain registers the proxy route and hosts entry for domain.
// Both are best-effort.
func (m *Manager) publishDomain(domain string, port int) {
	if m.opts.Proxy != nil {
		if err := m.opts.Proxy.Register(domain, port); err != nil {
			m.log.Warn("proxy route not registered", "domain", domain, "error", err)
		}
	}
	if m.opts.Hosts != nil {
		if err := m.opts.Hosts.AddEntry(domain); err != nil {
			m.log.Warn("hosts entry not added", "domain", domain, "error", err)
		}
	}
}

func (m *Manager) unpublishDomain(domain string) {
	if m.opts.Proxy != nil {
		m.opts.Proxy.Unregister(domain)
	}
	if m.opts.Hosts != nil {
		if err := m.opts.Hosts.RemoveEntry(domain); err != nil {
			m.log.Warn("hosts entry not removed", "domain", domain, "error", err)
		}
	}
}
