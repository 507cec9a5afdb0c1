package client

import (
	"fmt"
	"time"
)

// Project is a registered project as returned by the API.
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Domain  string `json:"domain"`
	Port    int    `json:"port"`
	Version string `json:"version"`
}

// ProjectStatus is a project together with its live state.
type ProjectStatus struct {
	Project
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Missing bool   `json:"missing"`
}

// ServiceStatus is a global service together with its live state.
type ServiceStatus struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Runtime string   `json:"runtime"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Port    int      `json:"port"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	PID     int      `json:"pid,omitempty"`
}

// StatusEntry is the registry entry of one project or service id.
type StatusEntry struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	PID       int       `json:"pid,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Version is an installed runtime distribution.
type Version struct {
	Name    string `json:"name"`
	Runtime string `json:"runtime"`
	Dir     string `json:"dir"`
	Active  bool   `json:"active"`
}

// Event is one status transition streamed from /events.
type Event struct {
	ID    string    `json:"id"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	Error string    `json:"error,omitempty"`
	PID   int       `json:"pid,omitempty"`
	At    time.Time `json:"at"`
}

// AddRequest represents a request to import a project folder
type AddRequest struct {
	Path    string `json:"path"`
	Name    string `json:"name,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Version string `json:"version,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
