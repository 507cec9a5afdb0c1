package version

import (
	"errors"
	"fmt"

	"github.com/loykin/stackr/internal/project"
)

// Resolver maps a project's version reference to a runtime bin directory.
type Resolver struct {
	catalog *Catalog
	runtime string
	// fallback names the version used when no bin symlink exists yet.
	fallback string
}

func NewResolver(c *Catalog, runtime, defaultVersion string) *Resolver {
	return &Resolver{catalog: c, runtime: runtime, fallback: defaultVersion}
}

func (r *Resolver) Runtime() string { return r.runtime }

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Global resolves the currently active version: the bin symlink target, then
// the configured default, then the newest installed version.
func (r *Resolver) Global() (string, error) {
	if inst, err := r.catalog.Active(r.runtime); err == nil {
		return inst.Dir, nil
	}
	if r.fallback != "" {
		if inst, err := r.catalog.Find(r.fallback); err == nil {
			return inst.Dir, nil
		}
	}
	inst, err := r.catalog.Newest(r.runtime)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoGlobalVersion, err)
	}
	return inst.Dir, nil
}

// Resolve returns the bin dir for ref. A specific version that is not
// installed yields ErrVersionNotInstalled.
func (r *Resolver) Resolve(ref string) (string, error) {
	if ref == "" || ref == project.GlobalVersion {
		return r.Global()
	}
	inst, err := r.catalog.Find(ref)
	if err != nil {
		return "", err
	}
	return inst.Dir, nil
}

// ResolveOrGlobal resolves ref and falls back to the global version when a
// specific reference cannot be satisfied. fellBack reports the substitution
// along with the original failure so callers can log it.
func (r *Resolver) ResolveOrGlobal(ref string) (dir string, fellBack bool, cause error) {
	dir, cause = r.Resolve(ref)
	if cause == nil {
		return dir, false, nil
	}
	if ref == "" || ref == project.GlobalVersion {
		return "", false, cause
	}
	g, gerr := r.Global()
	if gerr != nil {
		return "", true, errors.Join(cause, gerr)
	}
	return g, true, cause
}
