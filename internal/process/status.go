package process

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/stackr/internal/launch"
)

var (
	ErrAlreadyRunning = errors.New("service already running")
	ErrPortInUse      = errors.New("port already in use")
	ErrNotRunning     = errors.New("service not running")
)

// Handle identifies a started process.
type Handle struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a point-in-time view of a tracked process.
type Status struct {
	ID        string      `json:"id"`
	Running   bool        `json:"running"`
	PID       int         `json:"pid"`
	StartedAt time.Time   `json:"started_at"`
	StoppedAt time.Time   `json:"stopped_at,omitempty"`
	ExitErr   string      `json:"exit_error,omitempty"`
	Spec      launch.Spec `json:"spec"`
}

// Spawner starts and stops OS processes keyed by service id. At most one
// live process exists per id.
type Spawner interface {
	Start(ctx context.Context, id string, spec launch.Spec) (Handle, error)
	Stop(ctx context.Context, id string) error
	Alive(id string) bool
}
