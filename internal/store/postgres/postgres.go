package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			domain TEXT NOT NULL,
			port INTEGER NOT NULL,
			version TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_port ON projects(port);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) LoadProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, path, kind, domain, port, version
		FROM projects
		ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]project.Project, 0)
	for rows.Next() {
		var r project.Project
		var kind string
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &kind, &r.Domain, &r.Port, &r.Version); err != nil {
			return nil, err
		}
		r.Kind = project.Kind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *DB) SaveProjects(ctx context.Context, projects []project.Project) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(projects))
	now := time.Now().UTC()
	for _, r := range projects {
		ids = append(ids, r.ID)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects(id, name, path, kind, domain, port, version, updated_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT(id) DO UPDATE SET
				name=EXCLUDED.name,
				path=EXCLUDED.path,
				kind=EXCLUDED.kind,
				domain=EXCLUDED.domain,
				port=EXCLUDED.port,
				version=EXCLUDED.version,
				updated_at=EXCLUDED.updated_at;`,
			r.ID, r.Name, r.Path, string(r.Kind), r.Domain, r.Port, r.Version, now)
		if err != nil {
			return fmt.Errorf("upsert project %s: %w", r.ID, err)
		}
	}
	// pgx encodes []string as text[]
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE NOT (id = ANY($1));`, ids); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

var _ store.Store = (*DB)(nil)
