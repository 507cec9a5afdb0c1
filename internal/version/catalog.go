package version

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	ErrVersionNotInstalled = errors.New("version not installed")
	ErrNoGlobalVersion     = errors.New("no global version available")
)

// Installed is a runtime distribution unpacked under the services directory
// as <runtime>-<version>.
type Installed struct {
	Name    string          `json:"name"`
	Runtime string          `json:"runtime"`
	Version *semver.Version `json:"-"`
	Dir     string          `json:"dir"`
	Active  bool            `json:"active"`
}

// ParseName splits "php-8.2.10" into its runtime and semantic version.
func ParseName(name string) (string, *semver.Version, error) {
	i := strings.Index(name, "-")
	if i <= 0 || i == len(name)-1 {
		return "", nil, fmt.Errorf("malformed version name %q", name)
	}
	v, err := semver.NewVersion(name[i+1:])
	if err != nil {
		return "", nil, fmt.Errorf("malformed version name %q: %w", name, err)
	}
	return name[:i], v, nil
}

// Catalog is a read-only view of the services directory plus the bin
// directory holding one "active" symlink per runtime.
type Catalog struct {
	ServicesDir string
	BinDir      string
}

func NewCatalog(servicesDir, binDir string) *Catalog {
	return &Catalog{ServicesDir: servicesDir, BinDir: binDir}
}

// List returns the installed versions of runtime, oldest first. An empty
// runtime lists everything. A missing services directory is not an error.
func (c *Catalog) List(runtime string) ([]Installed, error) {
	ents, err := os.ReadDir(c.ServicesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Installed
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		rt, v, err := ParseName(e.Name())
		if err != nil {
			continue
		}
		if runtime != "" && rt != runtime {
			continue
		}
		out = append(out, Installed{Name: e.Name(), Runtime: rt, Version: v, Dir: filepath.Join(c.ServicesDir, e.Name())})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Runtime != out[j].Runtime {
			return out[i].Runtime < out[j].Runtime
		}
		return out[i].Version.LessThan(out[j].Version)
	})
	active := map[string]string{}
	for i := range out {
		rt := out[i].Runtime
		if _, ok := active[rt]; !ok {
			active[rt] = c.activeName(rt)
		}
		out[i].Active = out[i].Name == active[rt]
	}
	return out, nil
}

// Find returns the installed version with the exact canonical name.
func (c *Catalog) Find(name string) (Installed, error) {
	rt, v, err := ParseName(name)
	if err != nil {
		return Installed{}, fmt.Errorf("%w: %v", ErrVersionNotInstalled, err)
	}
	dir := filepath.Join(c.ServicesDir, name)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return Installed{}, fmt.Errorf("%w: %s", ErrVersionNotInstalled, name)
	}
	return Installed{Name: name, Runtime: rt, Version: v, Dir: dir, Active: c.activeName(rt) == name}, nil
}

// Newest returns the highest installed version of runtime.
func (c *Catalog) Newest(runtime string) (Installed, error) {
	all, err := c.List(runtime)
	if err != nil {
		return Installed{}, err
	}
	if len(all) == 0 {
		return Installed{}, fmt.Errorf("%w: no %s installed", ErrVersionNotInstalled, runtime)
	}
	return all[len(all)-1], nil
}

func (c *Catalog) linkPath(runtime string) string {
	return filepath.Join(c.BinDir, runtime)
}

// Active returns the version the runtime's bin symlink points at.
func (c *Catalog) Active(runtime string) (Installed, error) {
	name := c.activeName(runtime)
	if name == "" {
		return Installed{}, fmt.Errorf("%w: %s", ErrNoGlobalVersion, runtime)
	}
	return c.Find(name)
}

func (c *Catalog) activeName(runtime string) string {
	target, err := os.Readlink(c.linkPath(runtime))
	if err != nil {
		return ""
	}
	return filepath.Base(filepath.Clean(target))
}

// SetActive repoints <bin>/<runtime> at the named installed version. The
// link is replaced with a rename so readers never observe it missing.
func (c *Catalog) SetActive(name string) error {
	inst, err := c.Find(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.BinDir, 0o755); err != nil {
		return err
	}
	link := c.linkPath(inst.Runtime)
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(inst.Dir, tmp); err != nil {
		return fmt.Errorf("link %s: %w", name, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("activate %s: %w", name, err)
	}
	return nil
}
