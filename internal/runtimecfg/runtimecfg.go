package runtimecfg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	IniName     = "php.ini"
	TemplateIni = "php.ini-development"
)

var ErrNoTemplate = errors.New("php.ini-development template not found")

// Extensions are enabled by Prepare when present but commented out.
var Extensions = []string{"openssl", "mbstring", "curl", "fileinfo", "pdo_mysql", "mysqli", "zip"}

// Prepare makes sure binDir has a php.ini with the extension dir and the
// common extensions enabled. It creates the file from the development
// template when missing and is a no-op when nothing needs changing.
func Prepare(binDir string) (changed bool, err error) {
	ini := filepath.Join(binDir, IniName)
	if _, err := os.Stat(ini); errors.Is(err, os.ErrNotExist) {
		if err := copyFile(filepath.Join(binDir, TemplateIni), ini); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, fmt.Errorf("%w in %s", ErrNoTemplate, binDir)
			}
			return false, err
		}
		changed = true
	}
	data, err := os.ReadFile(ini)
	if err != nil {
		return changed, err
	}
	out, modified := Patch(data)
	if !modified {
		return changed, nil
	}
	if err := writeAtomic(ini, out); err != nil {
		return changed, err
	}
	return true, nil
}

// Patch enables extension_dir = "ext" and uncomments the lines of the
// extensions in Extensions. Other lines are preserved byte for byte.
func Patch(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	modified := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if !first {
			buf.WriteByte('\n')
		}
		first = false
		if repl, ok := patchLine(line); ok {
			buf.WriteString(repl)
			modified = true
			continue
		}
		buf.WriteString(line)
	}
	if len(data) > 0 && data[len(data)-1] == '\n' {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), modified
}

func patchLine(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, ";") {
		return "", false
	}
	body := strings.TrimSpace(strings.TrimLeft(t, ";"))
	if body == `extension_dir = "ext"` {
		return body, true
	}
	name, ok := strings.CutPrefix(body, "extension=")
	if !ok {
		return "", false
	}
	name = strings.TrimSpace(name)
	for _, e := range Extensions {
		if name == e || name == "php_"+e+".dll" {
			return body, true
		}
	}
	return "", false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
