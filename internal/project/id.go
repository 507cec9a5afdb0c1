package project

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque project id: the first 12 hex digits of a
// random UUID, short enough to type on the command line.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
