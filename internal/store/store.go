package store

import (
	"context"
	"errors"

	"github.com/loykin/stackr/internal/project"
)

// ErrNotFound is returned by DeleteProject for an unknown id.
var ErrNotFound = errors.New("project not found in store")

// Store persists the project list. Run status is never stored; callers
// treat every loaded project as stopped.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// LoadProjects returns every stored project ordered by id. An empty
	// store yields an empty slice, not an error.
	LoadProjects(ctx context.Context) ([]project.Project, error)
	// SaveProjects replaces the stored set with projects.
	SaveProjects(ctx context.Context, projects []project.Project) error
	DeleteProject(ctx context.Context, id string) error
	Close() error
}
