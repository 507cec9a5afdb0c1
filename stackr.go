package stackr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/stackr/internal/config"
	"github.com/loykin/stackr/internal/history"
	histfactory "github.com/loykin/stackr/internal/history/factory"
	"github.com/loykin/stackr/internal/hosts"
	"github.com/loykin/stackr/internal/liveness"
	"github.com/loykin/stackr/internal/logger"
	"github.com/loykin/stackr/internal/manager"
	"github.com/loykin/stackr/internal/metrics"
	"github.com/loykin/stackr/internal/process"
	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/proxy"
	"github.com/loykin/stackr/internal/registry"
	"github.com/loykin/stackr/internal/server"
	"github.com/loykin/stackr/internal/store"
	storefactory "github.com/loykin/stackr/internal/store/factory"
	itls "github.com/loykin/stackr/internal/tls"
	"github.com/loykin/stackr/internal/version"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Project = project.Project

type Kind = project.Kind

type GlobalService = project.GlobalService

type View = manager.View

type ServiceView = manager.ServiceView

type Status = registry.Status

type Event = registry.Event

type AddOptions = manager.AddOptions

type Spawner = process.Spawner

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func DefaultConfig() (*Config, error) { return config.Default() }

// RegisterMetrics registers the collectors with r. Safe to call twice.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

type buildOptions struct {
	spawner Spawner
	logger  *slog.Logger
}

// Option customizes New.
type Option func(*buildOptions)

// WithSpawner replaces the os/exec process manager.
func WithSpawner(s Spawner) Option { return func(o *buildOptions) { o.spawner = s } }

// WithLogger replaces the logger built from Config.Log.
func WithLogger(l *slog.Logger) Option { return func(o *buildOptions) { o.logger = l } }

// Stack is one orchestrator daemon assembled from a Config.
type Stack struct {
	cfg *Config
	log *slog.Logger

	mgr     *manager.Manager
	store   store.Store
	catalog *version.Catalog
	monitor *liveness.Monitor
	proxy   *proxy.Router
	hosts   *hosts.File
	history *history.Dispatcher
	sampler *metrics.Sampler
	router  *server.Router

	closeOnce sync.Once
}

// New wires every component described by cfg. Nothing is started until Run.
func New(cfg *Config, opts ...Option) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	var bo buildOptions
	for _, o := range opts {
		o(&bo)
	}
	log := bo.logger
	if log == nil {
		log = logger.New(cfg.Log)
	}

	st, err := storefactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Stack{cfg: cfg, log: log, store: st}

	s.catalog = version.NewCatalog(cfg.ServicesDir, cfg.BinDir)
	resolver := version.NewResolver(s.catalog, cfg.Runtime, cfg.DefaultVersion)

	spawner := bo.spawner
	if spawner == nil {
		spawner = process.NewManager(cfg.Process, log.With("component", "process"))
	}

	// the monitor reads paths from the manager built below
	var mgr *manager.Manager
	s.monitor = liveness.New(cfg.Liveness, func() []string {
		if mgr == nil {
			return nil
		}
		return mgr.ProjectPaths()
	}, nil, log.With("component", "liveness"))

	mo := manager.Options{
		Spawner:  spawner,
		Store:    st,
		Resolver: resolver,
		ServiceResolver: func(runtime string) manager.Resolver {
			return version.NewResolver(s.catalog, runtime, "")
		},
		Liveness:               s.monitor,
		Services:               cfg.Services,
		BasePort:               cfg.BasePort,
		AllowConcurrentIntents: !cfg.SerializeIntents,
		Logger:                 log.With("component", "manager"),
	}
	if cfg.Proxy.Enabled {
		s.proxy = proxy.New(log.With("component", "proxy"))
		mo.Proxy = s.proxy
	}
	if cfg.Hosts.Enabled {
		path := cfg.Hosts.Path
		if path == "" {
			path = hosts.DefaultPath()
		}
		s.hosts = hosts.New(path)
		mo.Hosts = s.hosts
	}
	if cfg.History.Enabled && len(cfg.History.Sinks) > 0 {
		sinks := make([]history.Sink, 0, len(cfg.History.Sinks))
		for _, dsn := range cfg.History.Sinks {
			sink, err := histfactory.NewSinkFromDSN(dsn)
			if err != nil {
				s.history = history.NewDispatcher(log, sinks...)
				s.Close()
				return nil, fmt.Errorf("history sink: %w", err)
			}
			sinks = append(sinks, sink)
		}
		s.history = history.NewDispatcher(log.With("component", "history"), sinks...)
		mo.History = s.history
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			s.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Sampler.Enabled {
			s.sampler = metrics.NewSampler(cfg.Metrics.Sampler, s.runningPIDs)
		}
	}

	mgr, err = manager.New(mo)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.mgr = mgr

	s.router = server.NewRouter(mgr, cfg.Server.BasePath).WithVersions(s.catalog)
	if s.sampler != nil {
		s.router.WithUsage(s.sampler)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		s.router.WithMetrics(metrics.Handler())
	}
	return s, nil
}

// Manager exposes the orchestrator for embedding.
func (s *Stack) Manager() *manager.Manager { return s.mgr }

// Catalog exposes the installed runtime versions.
func (s *Stack) Catalog() *version.Catalog { return s.catalog }

// Handler returns the API handler including /metrics when it is shared.
func (s *Stack) Handler() http.Handler { return s.router.Handler() }

func (s *Stack) runningPIDs() map[string]int32 {
	out := make(map[string]int32)
	for _, e := range s.mgr.Registry().List() {
		if e.Status == registry.StatusRunning && e.PID > 0 {
			out[e.ID] = int32(e.PID)
		}
	}
	return out
}

// Run loads persisted projects, starts the background loops and serves the
// API until ctx is done. Running services are stopped on return.
func (s *Stack) Run(ctx context.Context) error {
	if err := s.mgr.Load(ctx); err != nil {
		return fmt.Errorf("load projects: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	goLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("background loop failed", "loop", name, "error", err)
			}
		}()
	}

	goLoop("liveness", s.monitor.Run)
	if s.sampler != nil {
		s.sampler.Start(ctx)
	}
	s.mgr.StartReconciler(0)
	if s.proxy != nil {
		goLoop("proxy", func(ctx context.Context) error { return s.proxy.Serve(ctx, s.cfg.Proxy.Listen) })
	}
	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Listen != "" {
		goLoop("metrics", func(ctx context.Context) error { return serveMetrics(ctx, s.cfg.Metrics.Listen) })
	}

	srv := server.NewServer(s.cfg.Server.Listen, s.router)
	tlsCfg, err := itls.Setup(s.cfg.Server.TLS)
	if err != nil {
		cancel()
		wg.Wait()
		s.shutdown()
		return fmt.Errorf("tls setup: %w", err)
	}
	srv.TLSConfig = tlsCfg

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			s.log.Info("api listening", "addr", srv.Addr, "base", s.cfg.Server.BasePath, "tls", true)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		s.log.Info("api listening", "addr", srv.Addr, "base", s.cfg.Server.BasePath)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shCtx)
		shCancel()
	}
	cancel()
	wg.Wait()
	return errors.Join(serveErr, s.shutdown())
}

func (s *Stack) shutdown() error {
	s.log.Info("shutting down")
	timeout := s.cfg.Process.StopTimeout
	if timeout <= 0 {
		timeout = process.DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()
	err := s.mgr.Shutdown(ctx)
	if s.sampler != nil {
		s.sampler.Stop()
	}
	return errors.Join(err, s.Close())
}

// Close releases the store and history sinks. Run calls it on return.
func (s *Stack) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.history != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			errs = append(errs, s.history.Close(ctx))
			cancel()
		}
		if s.store != nil {
			errs = append(errs, s.store.Close())
		}
	})
	return errors.Join(errs...)
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	}
}
