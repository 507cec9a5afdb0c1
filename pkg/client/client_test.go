package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackr/internal/launch"
	"github.com/loykin/stackr/internal/manager"
	"github.com/loykin/stackr/internal/process"
	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/server"
	"github.com/loykin/stackr/internal/store/jsonfile"
	"github.com/loykin/stackr/internal/version"
)

type memSpawner struct {
	mu    sync.Mutex
	alive map[string]bool
}

func (s *memSpawner) Start(_ context.Context, id string, _ launch.Spec) (process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[id] = true
	return process.Handle{ID: id, PID: 777, StartedAt: time.Now()}, nil
}

func (s *memSpawner) Stop(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive[id] {
		return process.ErrNotRunning
	}
	delete(s.alive, id)
	return nil
}

func (s *memSpawner) Alive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive[id]
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	st, err := jsonfile.New(filepath.Join(dir, "projects.json"))
	require.NoError(t, err)
	mgr, err := manager.New(manager.Options{
		Spawner:        &memSpawner{alive: map[string]bool{}},
		Store:          st,
		PrepareRuntime: func(string) (bool, error) { return false, nil },
		Services:       []project.GlobalService{{ID: project.ServiceDatabase, Name: "MariaDB", Command: "mysqld", Port: 3306}},
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	cat := version.NewCatalog(filepath.Join(dir, "services"), filepath.Join(dir, "bin"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "services", "php-8.2.10"), 0o755))

	srv := httptest.NewServer(server.NewRouter(mgr, "/api").WithVersions(cat).Handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api", Timeout: 5 * time.Second}), dir
}

func TestClientProjectLifecycle(t *testing.T) {
	c, dir := newTestClient(t)
	ctx := context.Background()
	require.True(t, c.IsReachable(ctx))

	root := filepath.Join(dir, "blog")
	require.NoError(t, os.MkdirAll(root, 0o755))
	p, err := c.AddProject(ctx, AddRequest{Path: root, Name: "blog"})
	require.NoError(t, err)
	assert.Equal(t, "blog", p.Name)
	assert.Equal(t, 8001, p.Port)

	require.NoError(t, c.StartProject(ctx, p.ID))
	st, err := c.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 777, st.PID)

	require.NoError(t, c.SetPort(ctx, p.ID, 8100))
	require.NoError(t, c.SetVersion(ctx, p.ID, "php-8.2.10"))
	require.NoError(t, c.SetDomain(ctx, p.ID, "blog.test"))
	require.NoError(t, c.Relocate(ctx, p.ID, filepath.Join(dir, "blog2")))

	got, err := c.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 8100, got.Port)
	assert.Equal(t, "blog.test", got.Domain)
	assert.Equal(t, "stopped", got.Status)

	list, err := c.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.RemoveProject(ctx, p.ID))
	list, err = c.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClientErrors(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.StartProject(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "unknown project")
}

func TestClientServicesAndVersions(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	svcs, err := c.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, svcs, 1)
	assert.Equal(t, "stopped", svcs[0].Status)
	require.NoError(t, c.StartService(ctx, project.ServiceDatabase))
	require.NoError(t, c.StopService(ctx, project.ServiceDatabase))

	vs, err := c.ListVersions(ctx, "php")
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.False(t, vs[0].Active)
	require.NoError(t, c.UseVersion(ctx, "php-8.2.10"))
	vs, err = c.ListVersions(ctx, "")
	require.NoError(t, err)
	assert.True(t, vs[0].Active)

	require.NoError(t, c.Reconcile(ctx))
}

func TestClientEvents(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = c.StartService(context.Background(), project.ServiceDatabase)
	}()
	ch, err := c.Events(ctx)
	require.NoError(t, err)
	for ev := range ch {
		if ev.To == "running" {
			assert.Equal(t, project.ServiceDatabase, ev.ID)
			return
		}
	}
	t.Fatal("stream ended before running event")
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
}
