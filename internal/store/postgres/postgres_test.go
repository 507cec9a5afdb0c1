package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/store"
)

// startPostgresContainer returns a DSN for pgx stdlib. It skips the test if
// Docker is unavailable.
func startPostgresContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return ""
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
		cancel()
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	waitForPostgres(t, dsn)
	return dsn
}

func waitForPostgres(t *testing.T, dsn string) {
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresProjects(t *testing.T) {
	dsn := startPostgresContainer(t)
	db, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.EnsureSchema(ctx))

	ps := []project.Project{
		{ID: "p1", Name: "shop", Path: "/srv/shop", Kind: project.KindArtisan, Domain: "shop.test", Port: 8001, Version: project.GlobalVersion},
		{ID: "p2", Name: "api", Path: "/srv/api", Kind: project.KindFrontController, Domain: project.LocalDomain, Port: 8002, Version: "php-8.2.10"},
	}
	require.NoError(t, db.SaveProjects(ctx, ps))
	got, err := db.LoadProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, ps, got)

	ps[0].Domain = "shop2.test"
	require.NoError(t, db.SaveProjects(ctx, ps[:1]))
	got, err = db.LoadProjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shop2.test", got[0].Domain)

	require.NoError(t, db.DeleteProject(ctx, "p1"))
	assert.ErrorIs(t, db.DeleteProject(ctx, "p1"), store.ErrNotFound)

	require.NoError(t, db.SaveProjects(ctx, ps))
	require.NoError(t, db.SaveProjects(ctx, nil))
	got, err = db.LoadProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
