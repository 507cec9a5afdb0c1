package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/store"
)

// FileName is the default file name under the stackr home directory.
const FileName = "projects.json"

// Store keeps the project list in a single JSON array on disk.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty json store path")
	}
	return &Store{path: path}, nil
}

// DefaultPath returns ~/.stackr/projects.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".stackr", FileName), nil
}

func (s *Store) Path() string { return s.path }

// EnsureSchema creates the parent directory.
func (s *Store) EnsureSchema(_ context.Context) error {
	return os.MkdirAll(filepath.Dir(s.path), 0o700)
}

func (s *Store) Close() error { return nil }

func (s *Store) LoadProjects(_ context.Context) ([]project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readNoLock()
}

func (s *Store) readNoLock() ([]project.Project, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []project.Project{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	out := make([]project.Project, 0)
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveProjects(_ context.Context, projects []project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeNoLock(projects)
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.readNoLock()
	if err != nil {
		return err
	}
	kept := cur[:0]
	found := false
	for _, p := range cur {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return s.writeNoLock(kept)
}

// writeNoLock replaces the file through a temp file and rename.
func (s *Store) writeNoLock(projects []project.Project) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if projects == nil {
		projects = []project.Project{}
	}
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal projects: %w", err)
	}
	f, err := os.CreateTemp(dir, ".projects-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write projects: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to fsync projects: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close projects file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace projects file: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
