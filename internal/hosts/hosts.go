package hosts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// LoopbackIP is the address every project domain maps to.
const LoopbackIP = "127.0.0.1"

// marker tags the lines this package writes.
const marker = "# stackr"

var ErrInvalidDomain = errors.New("invalid domain")

// DefaultPath returns the system hosts file location.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return root + `\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// File edits a hosts file. Methods are safe for concurrent use within one
// process.
type File struct {
	path string
	mu   sync.Mutex
}

func New(path string) *File {
	if path == "" {
		path = DefaultPath()
	}
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

func validDomain(d string) error {
	if d == "" || strings.ContainsAny(d, " \t\r\n#") {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, d)
	}
	return nil
}

// mapsTo reports whether a hosts line maps domain to LoopbackIP.
func mapsTo(line, domain string) bool {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != LoopbackIP {
		return false
	}
	for _, h := range fields[1:] {
		if strings.EqualFold(h, domain) {
			return true
		}
	}
	return false
}

func (f *File) read() (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("read hosts %s: %w", f.path, err)
	}
	return string(b), nil
}

// owned reports whether a hosts line carries the stackr marker.
func owned(line string) bool {
	i := strings.IndexByte(line, '#')
	return i >= 0 && strings.TrimSpace(line[i:]) == marker
}

// write replaces the file through a temp file in the same directory.
func (f *File) write(content string) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(f.path); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+"-*")
	if err != nil {
		return fmt.Errorf("write hosts %s: %w", f.path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write hosts %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write hosts %s: %w", f.path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("write hosts %s: %w", f.path, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("write hosts %s: %w", f.path, err)
	}
	return nil
}

// Has reports whether domain is mapped to the loopback address.
func (f *File) Has(domain string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.read()
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(content, "\n") {
		if mapsTo(line, domain) {
			return true, nil
		}
	}
	return false, nil
}

// AddEntry maps domain to 127.0.0.1. Existing mappings are left alone.
func (f *File) AddEntry(domain string) error {
	if err := validDomain(domain); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.read()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(content, "\n") {
		if mapsTo(line, domain) {
			return nil
		}
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += fmt.Sprintf("%s %s %s\n", LoopbackIP, domain, marker)
	return f.write(content)
}

// RemoveEntry drops domain from the lines this package wrote. Lines without
// the stackr marker are never touched. Removing an absent domain is a no-op.
func (f *File) RemoveEntry(domain string) error {
	if err := validDomain(domain); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.read()
	if err != nil {
		return err
	}
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	removed := false
	for _, line := range lines {
		if !owned(line) || !mapsTo(line, domain) {
			kept = append(kept, line)
			continue
		}
		removed = true
		if rest := withoutHost(line, domain); rest != "" {
			kept = append(kept, rest)
		}
	}
	if !removed {
		return nil
	}
	return f.write(strings.Join(kept, "\n"))
}

// withoutHost returns an owned line with domain removed, or "" when no other
// host is left on it.
func withoutHost(line, domain string) string {
	fields := strings.Fields(line[:strings.IndexByte(line, '#')])
	hosts := make([]string, 0, len(fields))
	for _, h := range fields[1:] {
		if !strings.EqualFold(h, domain) {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return ""
	}
	return fmt.Sprintf("%s %s %s", fields[0], strings.Join(hosts, " "), marker)
}
