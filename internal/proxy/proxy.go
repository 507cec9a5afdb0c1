package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Response bodies for requests that cannot be routed.
const (
	NotFoundBody   = "stackr: site not found"
	BadGatewayBody = "stackr: project server not running"
)

// Route maps a host name to a local project port.
type Route struct {
	Domain string `json:"domain"`
	Port   int    `json:"port"`
}

// Router forwards requests to 127.0.0.1:<port> by Host header.
type Router struct {
	mu     sync.RWMutex
	routes map[string]int

	e      *echo.Echo
	logger *slog.Logger
}

func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{routes: make(map[string]int), logger: logger}
	r.e = r.build()
	return r
}

func normalizeHost(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

// Register routes domain to port, replacing any previous route.
func (r *Router) Register(domain string, port int) error {
	d := normalizeHost(domain)
	if d == "" || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid route %q -> %d", domain, port)
	}
	r.mu.Lock()
	r.routes[d] = port
	r.mu.Unlock()
	r.logger.Info("proxy route registered", "domain", d, "port", port)
	return nil
}

// Unregister drops domain. Unknown domains are ignored.
func (r *Router) Unregister(domain string) {
	d := normalizeHost(domain)
	r.mu.Lock()
	_, ok := r.routes[d]
	delete(r.routes, d)
	r.mu.Unlock()
	if ok {
		r.logger.Info("proxy route removed", "domain", d)
	}
}

// Lookup returns the port routed for host, which may carry a :port suffix.
func (r *Router) Lookup(host string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.routes[normalizeHost(host)]
	return p, ok
}

// Routes returns all routes sorted by domain.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	out := make([]Route, 0, len(r.routes))
	for d, p := range r.routes {
		out = append(out, Route{Domain: d, Port: p})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// targetKey holds the upstream resolved once per request, so Skipper and
// Next agree even when the route changes mid-request.
const targetKey = "stackr.proxy.target"

// resolveTarget pins the upstream for the request's host.
func (r *Router) resolveTarget(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		host := c.Request().Host
		if port, ok := r.Lookup(host); ok {
			u := &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}
			c.Set(targetKey, &middleware.ProxyTarget{Name: normalizeHost(host), URL: u})
		}
		return next(c)
	}
}

func pinnedTarget(c echo.Context) *middleware.ProxyTarget {
	t, _ := c.Get(targetKey).(*middleware.ProxyTarget)
	return t
}

// hostBalancer hands out the target pinned by resolveTarget instead of
// picking from a fixed list.
type hostBalancer struct{}

func (hostBalancer) AddTarget(*middleware.ProxyTarget) bool { return false }
func (hostBalancer) RemoveTarget(string) bool              { return false }

func (hostBalancer) Next(c echo.Context) *middleware.ProxyTarget { return pinnedTarget(c) }

// proxyError answers 404 when the route went away during the request and
// 502 when the project server is down.
func (r *Router) proxyError(c echo.Context, err error) error {
	if _, ok := r.Lookup(c.Request().Host); !ok {
		return c.String(http.StatusNotFound, NotFoundBody)
	}
	r.logger.Warn("proxy upstream failed", "host", c.Request().Host, "error", err)
	return c.String(http.StatusBadGateway, BadGatewayBody)
}

func (r *Router) build() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogHost:    true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			r.logger.Debug("proxy request", "host", v.Host, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(r.resolveTarget)
	e.Use(middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer: hostBalancer{},
		// unrouted hosts fall through to the not-found handler
		Skipper: func(c echo.Context) bool {
			return pinnedTarget(c) == nil
		},
		ErrorHandler: r.proxyError,
	}))
	notFound := func(c echo.Context) error {
		return c.String(http.StatusNotFound, NotFoundBody)
	}
	e.Any("/*", notFound)
	e.Any("/", notFound)
	return e
}

// Handler returns the http.Handler serving routed traffic.
func (r *Router) Handler() http.Handler { return r.e }

// Serve listens on addr until ctx is done.
func (r *Router) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: r.e, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	r.logger.Info("domain proxy listening", "addr", addr)
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
