package project

import (
	"os"
	"path/filepath"
)

// detectRules are evaluated in order; the first marker found wins.
var detectRules = []struct {
	marker string
	kind   Kind
}{
	{"artisan", KindArtisan},
	{"wp-config.php", KindCMS},
	{"wp-content", KindCMS},
	{filepath.Join("public", "index.php"), KindFrontController},
	{"index.php", KindStandard},
}

// DetectKind guesses the launch convention of the project at root by
// looking for well-known marker files.
func DetectKind(root string) Kind {
	for _, r := range detectRules {
		if _, err := os.Stat(filepath.Join(root, r.marker)); err == nil {
			return r.kind
		}
	}
	return KindUnspecified
}
