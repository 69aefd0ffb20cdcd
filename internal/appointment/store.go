package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists appointments for the ledger. Only the ledger writes to it.
type Store interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	Insert(ctx context.Context, a *Appointment) error

	// Update writes a only if the stored version still equals a.Version, then
	// bumps a.Version. A stored row with another version yields ErrStaleAppointment.
	Update(ctx context.Context, a *Appointment) error

	// Query returns matches ordered by interval start, then id.
	Query(ctx context.Context, f Filter) ([]Appointment, error)
}

// MemoryStore keeps appointments in a map. Reads share a read lock.
type MemoryStore struct {
	mu           sync.RWMutex
	appointments map[string]Appointment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appointments: make(map[string]Appointment)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *MemoryStore) Insert(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appointments[a.ID]; exists {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	s.appointments[a.ID] = *a
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.appointments[a.ID]
	if !exists {
		return ErrAppointmentNotFound
	}
	if stored.Version != a.Version {
		return ErrStaleAppointment
	}
	a.Version++
	s.appointments[a.ID] = *a
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]Appointment, error) {
	s.mu.RLock()
	result := make([]Appointment, 0)
	for _, a := range s.appointments {
		if f.Matches(a) {
			result = append(result, a)
		}
	}
	s.mu.RUnlock()

	SortAppointments(result)
	return result, nil
}

// SortAppointments orders by interval start, ties broken by id.
func SortAppointments(as []Appointment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].Interval.Start.Equal(as[j].Interval.Start) {
			return as[i].Interval.Start.Before(as[j].Interval.Start)
		}
		return as[i].ID < as[j].ID
	})
}
