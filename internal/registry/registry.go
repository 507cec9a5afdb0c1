package registry

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Status is the observable lifecycle state of a service id.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

func (s Status) String() string { return string(s) }

// Settled reports whether s is a resting state (anything but starting).
func (s Status) Settled() bool { return s != StatusStarting }

var ErrNotFound = errors.New("service not found")

// Entry is the last known state of one service id.
type Entry struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	PID       int       `json:"pid,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is published to subscribers on every status change.
type Event struct {
	ID    string    `json:"id"`
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	Error string    `json:"error,omitempty"`
	PID   int       `json:"pid,omitempty"`
	At    time.Time `json:"at"`
}

// slot guards a single id so unrelated ids never contend on one lock.
type slot struct {
	mu sync.Mutex
	e  Entry
}

// Registry is the authoritative id -> status mapping.
//
// Lock order: Registry.mu is only held for map lookup/insert/delete and is
// never held while a slot lock is taken.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slot

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	hookMu sync.RWMutex
	hooks  []func(Event)
}

func New() *Registry {
	return &Registry{
		slots: make(map[string]*slot),
		subs:  make(map[int]chan Event),
	}
}

// OnTransition registers a synchronous hook invoked for every event, e.g. to
// feed metrics. Hooks must be fast and must not call back into the registry
// for the same id.
func (r *Registry) OnTransition(fn func(Event)) {
	if fn == nil {
		return
	}
	r.hookMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hookMu.Unlock()
}

func (r *Registry) lookup(id string) *slot {
	r.mu.RLock()
	s := r.slots[id]
	r.mu.RUnlock()
	return s
}

func (r *Registry) ensure(id string) *slot {
	if s := r.lookup(id); s != nil {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[id]
	if s == nil {
		s = &slot{e: Entry{ID: id, Status: StatusStopped, UpdatedAt: time.Now().UTC()}}
		r.slots[id] = s
	}
	return s
}

// Ensure registers id as stopped if it is unknown. Existing entries are left
// untouched.
func (r *Registry) Ensure(id string) {
	r.ensure(id)
}

// Reset forces id to stopped with no error, creating it if needed. Used when
// loading persisted projects, whose run state is never trusted.
func (r *Registry) Reset(id string) {
	r.Set(id, StatusStopped, nil)
}

// Get returns the entry for id or ErrNotFound.
func (r *Registry) Get(id string) (Entry, error) {
	s := r.lookup(id)
	if s == nil {
		return Entry{}, ErrNotFound
	}
	s.mu.Lock()
	e := s.e
	s.mu.Unlock()
	return e, nil
}

// Set moves id to st, recording err's message (nil clears it). The entry is
// created if absent.
func (r *Registry) Set(id string, st Status, err error) Entry {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e, _ := r.update(r.ensure(id), func(e *Entry) {
		e.Status = st
		e.Error = msg
		if st != StatusRunning {
			e.PID = 0
		}
	})
	return e
}

// Update applies fn to id's entry atomically with respect to other calls for
// the same id. It returns ErrNotFound for unknown ids.
func (r *Registry) Update(id string, fn func(*Entry)) (Entry, error) {
	s := r.lookup(id)
	if s == nil {
		return Entry{}, ErrNotFound
	}
	return r.update(s, fn)
}

func (r *Registry) update(s *slot, fn func(*Entry)) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.e
	fn(&s.e)
	s.e.ID = before.ID
	if s.e.Status != before.Status || s.e.Error != before.Error {
		s.e.UpdatedAt = time.Now().UTC()
		// published under the slot lock so per-id event order matches
		// transition order
		r.publish(Event{ID: s.e.ID, From: before.Status, To: s.e.Status, Error: s.e.Error, PID: s.e.PID, At: s.e.UpdatedAt})
	}
	return s.e, nil
}

// Delete forgets id. Unknown ids are ignored.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.slots, id)
	r.mu.Unlock()
}

// List returns a snapshot of all entries sorted by id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()
	out := make([]Entry, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.e)
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe returns a channel receiving every subsequent event and a cancel
// func that closes it. Sends never block: a subscriber that falls more than
// buf events behind misses events.
func (r *Registry) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Event, buf)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) publish(ev Event) {
	r.hookMu.RLock()
	hooks := r.hooks
	r.hookMu.RUnlock()
	for _, h := range hooks {
		h(ev)
	}
	r.subMu.Lock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	r.subMu.Unlock()
}
