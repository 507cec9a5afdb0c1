package factory

import (
	"errors"
	"strings"

	"github.com/loykin/stackr/internal/store"
	js "github.com/loykin/stackr/internal/store/jsonfile"
	pg "github.com/loykin/stackr/internal/store/postgres"
	sq "github.com/loykin/stackr/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - json:     "json://<path>" or a bare path ending in ".json"
//   - sqlite:   "sqlite://<path>" or any other bare path
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	switch {
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "json://"):
		return js.New(d[len("json://"):])
	case strings.HasSuffix(ld, ".json"):
		return js.New(d)
	}
	return sq.New(d)
}
