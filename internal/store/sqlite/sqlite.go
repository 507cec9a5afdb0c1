package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path; ":memory:" keeps everything in one
// connection.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY and keeps :memory: databases shared
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			domain TEXT NOT NULL,
			port INTEGER NOT NULL,
			version TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_port ON projects(port);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) LoadProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, kind, domain, port, version
		FROM projects
		ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]project.Project, 0)
	for rows.Next() {
		var p project.Project
		var kind string
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &kind, &p.Domain, &p.Port, &p.Version); err != nil {
			return nil, err
		}
		p.Kind = project.Kind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DB) SaveProjects(ctx context.Context, projects []project.Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects;`); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, p := range projects {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects(id, name, path, kind, domain, port, version, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
			p.ID, p.Name, p.Path, string(p.Kind), p.Domain, p.Port, p.Version, now)
		if err != nil {
			return fmt.Errorf("insert project %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

var _ store.Store = (*DB)(nil)
