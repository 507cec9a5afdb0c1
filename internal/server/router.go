package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/stackr/internal/manager"
	"github.com/loykin/stackr/internal/metrics"
	"github.com/loykin/stackr/internal/process"
	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/version"
)

// Router provides embeddable HTTP handlers for the orchestrator.
// Endpoints (relative to basePath):
//
//	GET    /projects                  list projects with status
//	POST   /projects                  body: AddRequest
//	GET    /projects/:id
//	DELETE /projects/:id
//	POST   /projects/:id/start
//	POST   /projects/:id/stop
//	PUT    /projects/:id/path         body: {"path": ...}
//	PUT    /projects/:id/port         body: {"port": ...}
//	PUT    /projects/:id/version      body: {"version": ...}
//	PUT    /projects/:id/domain       body: {"domain": ...}
//	GET    /services
//	POST   /services/:id/start
//	POST   /services/:id/stop
//	GET    /status?id=...
//	GET    /events                    server-sent status transitions
//	GET    /versions?runtime=...
//	PUT    /versions/active           body: {"name": ...}
//	GET    /usage                     last resource samples
//	POST   /debug/reconcile
type Router struct {
	mgr      *mng.Manager
	basePath string
	versions Versions
	usage    UsageSource
	metrics  http.Handler
}

// Versions is the runtime catalog. *version.Catalog implements it.
type Versions interface {
	List(runtime string) ([]version.Installed, error)
	SetActive(name string) error
}

// UsageSource exposes resource samples. *metrics.Sampler implements it.
type UsageSource interface {
	All() map[string]metrics.Usage
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/projects, /api/services, ...
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// WithVersions enables the /versions endpoints.
func (r *Router) WithVersions(v Versions) *Router {
	r.versions = v
	return r
}

// WithUsage enables the /usage endpoint.
func (r *Router) WithUsage(u UsageSource) *Router {
	r.usage = u
	return r
}

// WithMetrics serves h at /metrics, outside basePath.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Mount(g)
	return g
}

// Mount registers the routes on an existing engine.
func (r *Router) Mount(g *gin.Engine) {
	group := g.Group(r.basePath)
	group.GET("/projects", r.handleListProjects)
	group.POST("/projects", r.handleAddProject)
	group.GET("/projects/:id", r.handleGetProject)
	group.DELETE("/projects/:id", r.handleRemoveProject)
	group.POST("/projects/:id/start", r.handleStartProject)
	group.POST("/projects/:id/stop", r.handleStopProject)
	group.PUT("/projects/:id/path", r.handleRelocate)
	group.PUT("/projects/:id/port", r.handleSetPort)
	group.PUT("/projects/:id/version", r.handleSetVersion)
	group.PUT("/projects/:id/domain", r.handleSetDomain)
	group.GET("/services", r.handleListServices)
	group.POST("/services/:id/start", r.handleStartService)
	group.POST("/services/:id/stop", r.handleStopService)
	group.GET("/status", r.handleStatus)
	group.GET("/events", r.handleEvents)
	group.GET("/versions", r.handleListVersions)
	group.PUT("/versions/active", r.handleSetActiveVersion)
	group.GET("/usage", r.handleUsage)
	group.POST("/debug/reconcile", r.handleDebugReconcile)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
}

// NewServer builds a standalone HTTP server on addr using this router.
// There is no write timeout since /events streams until the client leaves.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Requests / responses ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// AddRequest is the body of POST /projects.
type AddRequest struct {
	Path    string `json:"path"`
	Name    string `json:"name,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Version string `json:"version,omitempty"`
	Port    int    `json:"port,omitempty"`
}

type pathReq struct {
	Path string `json:"path"`
}

type portReq struct {
	Port int `json:"port"`
}

type versionReq struct {
	Version string `json:"version"`
}

type domainReq struct {
	Domain string `json:"domain"`
}

type activeReq struct {
	Name string `json:"name"`
}

// statusCode maps manager errors to HTTP status codes.
func statusCode(err error) int {
	var se *mng.ProcessStartError
	switch {
	case errors.Is(err, mng.ErrUnknownProject), errors.Is(err, mng.ErrUnknownService),
		errors.Is(err, version.ErrVersionNotInstalled):
		return http.StatusNotFound
	case errors.Is(err, mng.ErrPathMissing), errors.Is(err, process.ErrAlreadyRunning),
		errors.Is(err, process.ErrPortInUse):
		return http.StatusConflict
	case errors.Is(err, mng.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
}

// pathID reads and validates the :id path parameter.
func pathID(c *gin.Context) (string, bool) {
	v := c.Param("id")
	if !isSafeID(v) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id: allowed [A-Za-z0-9._:-]"})
		return "", false
	}
	return v, true
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// --- Handlers ---

func (r *Router) handleListProjects(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Projects())
}

func (r *Router) handleAddProject(c *gin.Context) {
	var req AddRequest
	if !bind(c, &req) {
		return
	}
	if req.Path == "" || !isSafeAbsPath(req.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute path without traversal"})
		return
	}
	opts := mng.AddOptions{Name: req.Name, Domain: req.Domain, Version: req.Version, Port: req.Port}
	if req.Kind != "" {
		k, err := project.ParseKind(req.Kind)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		opts.Kind = k
	}
	p, err := r.mgr.AddProject(c.Request.Context(), req.Path, opts)
	if err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

func (r *Router) handleGetProject(c *gin.Context) {
	pid, ok := pathID(c)
	if !ok {
		return
	}
	v, err := r.mgr.Project(pid)
	if err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleRemoveProject(c *gin.Context) {
	r.do(c, func(pid string) error { return r.mgr.RemoveProject(c.Request.Context(), pid) })
}

func (r *Router) handleStartProject(c *gin.Context) {
	r.do(c, func(pid string) error { return r.mgr.StartProject(c.Request.Context(), pid) })
}

func (r *Router) handleStopProject(c *gin.Context) {
	r.do(c, func(pid string) error { return r.mgr.StopProject(c.Request.Context(), pid) })
}

func (r *Router) handleRelocate(c *gin.Context) {
	var req pathReq
	if !bind(c, &req) {
		return
	}
	if req.Path == "" || !isSafeAbsPath(req.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute path without traversal"})
		return
	}
	r.do(c, func(pid string) error { return r.mgr.Relocate(c.Request.Context(), pid, req.Path) })
}

func (r *Router) handleSetPort(c *gin.Context) {
	var req portReq
	if !bind(c, &req) {
		return
	}
	r.do(c, func(pid string) error { return r.mgr.SetPort(c.Request.Context(), pid, req.Port) })
}

func (r *Router) handleSetVersion(c *gin.Context) {
	var req versionReq
	if !bind(c, &req) {
		return
	}
	r.do(c, func(pid string) error { return r.mgr.SetVersion(c.Request.Context(), pid, req.Version) })
}

func (r *Router) handleSetDomain(c *gin.Context) {
	var req domainReq
	if !bind(c, &req) {
		return
	}
	r.do(c, func(pid string) error { return r.mgr.SetDomain(c.Request.Context(), pid, req.Domain) })
}

func (r *Router) handleListServices(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Services())
}

func (r *Router) handleStartService(c *gin.Context) {
	r.do(c, func(sid string) error { return r.mgr.StartService(c.Request.Context(), sid) })
}

func (r *Router) handleStopService(c *gin.Context) {
	r.do(c, func(sid string) error { return r.mgr.StopService(c.Request.Context(), sid) })
}

// do runs an id-scoped intent and writes ok or the mapped error.
func (r *Router) do(c *gin.Context, fn func(id string) error) {
	v, ok := pathID(c)
	if !ok {
		return
	}
	if err := fn(v); err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	v := c.Query("id")
	if v == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	e, err := r.mgr.Status(v)
	if err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, e)
}

func (r *Router) handleEvents(c *gin.Context) {
	ch, cancel := r.mgr.Subscribe(64)
	defer cancel()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("status", ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (r *Router) handleListVersions(c *gin.Context) {
	if r.versions == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "version catalog not configured"})
		return
	}
	list, err := r.versions.List(c.Query("runtime"))
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []version.Installed{}
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleSetActiveVersion(c *gin.Context) {
	if r.versions == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "version catalog not configured"})
		return
	}
	var req activeReq
	if !bind(c, &req) {
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
		return
	}
	if err := r.versions.SetActive(req.Name); err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUsage(c *gin.Context) {
	if r.usage == nil {
		writeJSON(c, http.StatusOK, map[string]metrics.Usage{})
		return
	}
	writeJSON(c, http.StatusOK, r.usage.All())
}

func (r *Router) handleDebugReconcile(c *gin.Context) {
	r.mgr.ReconcileOnce()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
