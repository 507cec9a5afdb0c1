package env

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Env composes child process environments: the OS environment, global
// overrides from configuration and extra PATH directories.
type Env struct {
	vars  map[string]string
	paths []string
	base  map[string]string
}

func New() *Env {
	return &Env{vars: make(map[string]string)}
}

// Set sets a global override K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// SetAll applies "K=V" pairs; malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for k, v := range parse(kvs) {
		e.Set(k, v)
	}
}

// AddPath appends dirs to the list prepended to PATH for every child.
func (e *Env) AddPath(dirs ...string) {
	for _, d := range dirs {
		if d != "" {
			e.paths = append(e.paths, d)
		}
	}
}

func (e *Env) osBase() map[string]string {
	if e.base == nil {
		e.base = parse(os.Environ())
	}
	return e.base
}

// pathKey returns the PATH variable name as spelled in the base env; Windows
// keys are case-insensitive and usually "Path".
func pathKey(m map[string]string) string {
	if runtime.GOOS != "windows" {
		return "PATH"
	}
	for k := range m {
		if strings.EqualFold(k, "PATH") {
			return k
		}
	}
	return "Path"
}

// ForExecutable returns the environment for a child running exe, in "K=V"
// form sorted by key: OS env, then global overrides, then extra, with PATH set
// to the configured dirs, the executable's directory, and the inherited PATH.
// ${VAR} references are expanded against the composed map.
func (e *Env) ForExecutable(exe string, extra []string) []string {
	m := make(map[string]string)
	for k, v := range e.osBase() {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range parse(extra) {
		m[k] = v
	}

	key := pathKey(m)
	var parts []string
	parts = append(parts, e.paths...)
	if exe != "" && filepath.IsAbs(exe) {
		parts = append(parts, filepath.Dir(exe))
	}
	if cur := m[key]; cur != "" {
		parts = append(parts, cur)
	}
	if len(parts) > 0 {
		m[key] = strings.Join(parts, string(os.PathListSeparator))
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+os.Expand(v, func(name string) string { return m[name] }))
	}
	sort.Strings(out)
	return out
}

func parse(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}
