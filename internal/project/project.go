package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinels for the domain and version references.
const (
	LocalDomain   = "local"
	GlobalVersion = "global"
)

// Kind classifies a project by its launch convention.
type Kind string

const (
	KindStandard        Kind = "standard"
	KindArtisan         Kind = "artisan"
	KindFrontController Kind = "front-controller"
	KindCMS             Kind = "cms"
	KindUnspecified     Kind = "unspecified"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindStandard, KindArtisan, KindFrontController, KindCMS, KindUnspecified}

var kindAliases = map[string]Kind{
	"standard":         KindStandard,
	"plain":            KindStandard,
	"artisan":          KindArtisan,
	"laravel":          KindArtisan,
	"front-controller": KindFrontController,
	"symfony":          KindFrontController,
	"cms":              KindCMS,
	"wordpress":        KindCMS,
	"unspecified":      KindUnspecified,
	"unknown":          KindUnspecified,
	"":                 KindUnspecified,
}

// ParseKind accepts a kind name or one of the framework aliases.
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown project kind %q", s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// Project is a user-managed development service. Run status is not part of
// the persisted record; it lives in the service registry.
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Kind    Kind   `json:"kind"`
	Domain  string `json:"domain"`
	Port    int    `json:"port"`
	Version string `json:"version"`
}

var (
	ErrInvalidProject = errors.New("invalid project")
)

// Normalize fills sentinel defaults for empty fields and maps kind aliases
// to their canonical kind. Unknown kinds are left for Validate to reject.
func (p *Project) Normalize() {
	if k, err := ParseKind(string(p.Kind)); err == nil {
		p.Kind = k
	}
	if strings.TrimSpace(p.Domain) == "" {
		p.Domain = LocalDomain
	}
	if strings.TrimSpace(p.Version) == "" {
		p.Version = GlobalVersion
	}
	if p.Name == "" && p.Path != "" {
		p.Name = filepath.Base(p.Path)
	}
}

// Validate checks the fields the orchestrator relies on.
func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidProject)
	}
	if !filepath.IsAbs(p.Path) {
		return fmt.Errorf("%w: path %q must be absolute", ErrInvalidProject, p.Path)
	}
	if _, err := ParseKind(string(p.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidProject, p.Port)
	}
	return nil
}

// IsLocal reports whether the project is served only on 127.0.0.1:<port>.
func (p Project) IsLocal() bool {
	return p.Domain == "" || p.Domain == LocalDomain
}

// UsesGlobalVersion reports whether the project follows the active runtime.
func (p Project) UsesGlobalVersion() bool {
	return p.Version == "" || p.Version == GlobalVersion
}

// GlobalService is a singleton service such as the database daemon. Its id
// is fixed and its port follows convention.
type GlobalService struct {
	ID      string   `json:"id" mapstructure:"id"`
	Name    string   `json:"name" mapstructure:"name"`
	Runtime string   `json:"runtime" mapstructure:"runtime"` // runtime whose active bin dir hosts Command
	Command string   `json:"command" mapstructure:"command"` // executable name relative to the bin dir, or absolute
	Args    []string `json:"args" mapstructure:"args"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Port    int      `json:"port" mapstructure:"port"`
	// DataDir is seeded from SeedDir (relative to the bin dir) on first start
	// when it does not exist yet.
	DataDir string `json:"data_dir,omitempty" mapstructure:"data_dir"`
	SeedDir string `json:"seed_dir,omitempty" mapstructure:"seed_dir"`
}

// Well-known ids of the global services.
const (
	ServiceDatabase = "svc:database"
	ServiceDBAdmin  = "svc:dbadmin"
)
