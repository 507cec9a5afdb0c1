package launch

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/loykin/stackr/internal/project"
)

// ListenHost is the loopback address every project binds to.
const ListenHost = "127.0.0.1"

var ErrUnknownKind = errors.New("unknown project kind")

// Spec is a fully resolved process invocation.
type Spec struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
	WorkDir    string   `json:"work_dir"`
	Env        []string `json:"env,omitempty"`
	// Port is the TCP port the process is expected to listen on; zero
	// disables readiness waiting and the port-in-use check.
	Port int `json:"port,omitempty"`
}

// Argv returns the executable followed by its arguments.
func (s Spec) Argv() []string {
	return append([]string{s.Executable}, s.Args...)
}

// row describes how one kind is served. docRootSuffix is joined to the
// project path for the built-in server's -t flag; entry replaces the -S
// server entirely when set.
type row struct {
	entry         []string
	docRootSuffix string
}

// table is the single mapping from kind to invocation. Add a row to add a kind.
var table = map[project.Kind]row{
	project.KindStandard:        {},
	project.KindArtisan:         {entry: []string{"artisan", "serve"}},
	project.KindFrontController: {docRootSuffix: "public"},
	project.KindCMS:             {},
	project.KindUnspecified:     {},
}

// Executable returns the runtime interpreter inside binDir.
func Executable(binDir string) string {
	name := "php"
	if runtime.GOOS == "windows" {
		name = "php.exe"
	}
	if binDir == "" {
		return name
	}
	return filepath.Join(binDir, name)
}

// Build returns the launch spec for a project of the given kind. It is a pure
// function of its inputs.
func Build(kind project.Kind, binDir, projectPath string, port int) (Spec, error) {
	r, ok := table[kind]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	s := Spec{
		Executable: Executable(binDir),
		WorkDir:    projectPath,
		Port:       port,
	}
	p := strconv.Itoa(port)
	if len(r.entry) > 0 {
		s.Args = append(append([]string{}, r.entry...), "--host="+ListenHost, "--port="+p)
		return s, nil
	}
	docRoot := projectPath
	if r.docRootSuffix != "" {
		docRoot = projectPath + "/" + r.docRootSuffix
	}
	s.Args = []string{"-S", ListenHost + ":" + p, "-t", docRoot}
	return s, nil
}

// ForProject is Build applied to a project record.
func ForProject(p project.Project, binDir string) (Spec, error) {
	kind := p.Kind
	if kind == "" {
		kind = project.KindUnspecified
	}
	return Build(kind, binDir, p.Path, p.Port)
}

// ForService builds the spec of a global service. Relative commands are
// resolved against binDir.
func ForService(s project.GlobalService, binDir string) Spec {
	exe := s.Command
	if !filepath.IsAbs(exe) && binDir != "" {
		exe = filepath.Join(binDir, exe)
	}
	wd := s.WorkDir
	if wd == "" {
		wd = binDir
	}
	return Spec{
		Executable: exe,
		Args:       append([]string{}, s.Args...),
		WorkDir:    wd,
		Port:       s.Port,
	}
}
