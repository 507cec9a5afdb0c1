package manager

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProject = errors.New("unknown project")
	ErrUnknownService = errors.New("unknown service")
	ErrPathMissing    = errors.New("project path missing")
)

// PathMissingError refuses a start because the liveness monitor flagged the
// project folder as gone. Status is left untouched.
type PathMissingError struct {
	ID   string
	Path string
}

func (e *PathMissingError) Error() string {
	return fmt.Sprintf("project %s: path %s does not exist", e.ID, e.Path)
}

func (e *PathMissingError) Unwrap() error { return ErrPathMissing }

// ProcessStartError reports a failed start. The service is in error.
type ProcessStartError struct {
	ID  string
	Err error
}

func (e *ProcessStartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.ID, e.Err)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }

// ProcessStopError reports a failed stop. Status is unchanged.
type ProcessStopError struct {
	ID  string
	Err error
}

func (e *ProcessStopError) Error() string {
	return fmt.Sprintf("stop %s: %v", e.ID, e.Err)
}

func (e *ProcessStopError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store write. The in-memory change it
// accompanies has already been applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist after %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
