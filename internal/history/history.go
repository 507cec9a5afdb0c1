package history

import (
	"context"
	"time"

	"github.com/loykin/stackr/internal/registry"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventError EventType = "error"
)

// Event is a settled lifecycle transition exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ServiceID  string    `json:"service_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	PID        int       `json:"pid"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FromTransition converts a registry transition into a history event.
// Transitions into starting are not recorded.
func FromTransition(ev registry.Event) (Event, bool) {
	var t EventType
	switch ev.To {
	case registry.StatusRunning:
		t = EventStart
	case registry.StatusStopped:
		t = EventStop
	case registry.StatusError:
		t = EventError
	default:
		return Event{}, false
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		Type:       t,
		OccurredAt: at.UTC(),
		ServiceID:  ev.ID,
		From:       ev.From.String(),
		To:         ev.To.String(),
		PID:        ev.PID,
		Error:      ev.Error,
	}, true
}
