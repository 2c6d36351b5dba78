package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
)

// ErrNotFound is returned for unknown, expired or foreign sessions and flows.
var ErrNotFound = errors.New("booking: not found")

// DefaultSessionTTL is how long an idle session or flow is kept.
const DefaultSessionTTL = 30 * time.Minute

type entry[T any] struct {
	owner    string
	lastSeen time.Time
	value    T
}

type table[T interface{ Done() bool }] struct {
	items map[string]*entry[T]
}

func newTable[T interface{ Done() bool }]() table[T] {
	return table[T]{items: make(map[string]*entry[T])}
}

func (t table[T]) get(owner, id string, now time.Time, ttl time.Duration) (T, bool) {
	var zero T
	e, ok := t.items[id]
	if !ok || e.owner != owner {
		return zero, false
	}
	if now.Sub(e.lastSeen) > ttl {
		delete(t.items, id)
		return zero, false
	}
	e.lastSeen = now
	if e.value.Done() {
		delete(t.items, id)
	}
	return e.value, true
}

func (t table[T]) sweep(now time.Time, ttl time.Duration) int {
	removed := 0
	for id, e := range t.items {
		if now.Sub(e.lastSeen) > ttl {
			delete(t.items, id)
			removed++
		}
	}
	return removed
}

// Registry creates booking sessions and cancellation flows and keeps them
// per owner (the gateway session that created them) until they finish or
// sit idle past the TTL.
type Registry struct {
	deps Deps
	ttl  time.Duration

	mu       sync.Mutex
	sessions table[*Session]
	cancels  table[*Cancellation]
}

// NewRegistry builds a Registry. A non-positive ttl uses DefaultSessionTTL.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		deps:     deps.withDefaults(),
		ttl:      ttl,
		sessions: newTable[*Session](),
		cancels:  newTable[*Cancellation](),
	}
}

// StartNew opens a booking session for a new appointment.
func (r *Registry) StartNew(owner string) *Session {
	s := NewSession(uuid.NewString(), r.deps)
	r.mu.Lock()
	r.sessions.items[s.ID()] = &entry[*Session]{owner: owner, lastSeen: r.deps.Now(), value: s}
	r.mu.Unlock()
	r.deps.Logger.Info("booking session opened", "session_id", s.ID(), "mode", string(ModeNew))
	return s
}

// StartReschedule opens a session that moves appt.
func (r *Registry) StartReschedule(owner string, appt patientapi.Appointment) (*Session, error) {
	s, err := NewRescheduleSession(uuid.NewString(), appt, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions.items[s.ID()] = &entry[*Session]{owner: owner, lastSeen: r.deps.Now(), value: s}
	r.mu.Unlock()
	r.deps.Logger.Info("booking session opened", "session_id", s.ID(), "mode", string(ModeReschedule), "appointment_id", appt.AppointmentID.String())
	return s, nil
}

// Session returns the owner's session. A confirmed session is handed out one
// last time and then forgotten.
func (r *Registry) Session(owner, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.get(owner, id, r.deps.Now(), r.ttl)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Discard drops the owner's session.
func (r *Registry) Discard(owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions.items[id]
	if !ok || e.owner != owner {
		return ErrNotFound
	}
	delete(r.sessions.items, id)
	return nil
}

// RequestCancel opens a cancellation flow for appt.
func (r *Registry) RequestCancel(owner string, appt patientapi.Appointment) (*Cancellation, error) {
	c, err := RequestCancel(uuid.NewString(), appt, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cancels.items[c.ID()] = &entry[*Cancellation]{owner: owner, lastSeen: r.deps.Now(), value: c}
	r.mu.Unlock()
	return c, nil
}

// Cancellation returns the owner's cancellation flow. Finished flows are
// handed out one last time and then forgotten.
func (r *Registry) Cancellation(owner, id string) (*Cancellation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cancels.get(owner, id, r.deps.Now(), r.ttl)
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// DropOwner forgets everything owned by owner, e.g. after logout.
func (r *Registry) DropOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.sessions.items {
		if e.owner == owner {
			delete(r.sessions.items, id)
		}
	}
	for id, e := range r.cancels.items {
		if e.owner == owner {
			delete(r.cancels.items, id)
		}
	}
}

// Sweep removes idle entries and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.deps.Now()
	return r.sessions.sweep(now, r.ttl) + r.cancels.sweep(now, r.ttl)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.deps.Logger.Debug("expired booking sessions swept", "count", n)
			}
		}
	}
}
