package appointments

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and demos. It enforces
// the same one-appointment-per-call constraint as the SQLite store.
type MemoryStore struct {
	mu     sync.Mutex
	byCall map[string]*Appointment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCall: make(map[string]*Appointment)}
}

func (s *MemoryStore) Create(ctx context.Context, appt *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := appt.TenantID + "\x00" + appt.CallID
	if _, ok := s.byCall[key]; ok {
		return ErrDuplicate
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	stored := *appt
	stored.Slots = maps.Clone(appt.Slots)
	s.byCall[key] = &stored
	return nil
}

func (s *MemoryStore) GetByCall(ctx context.Context, tenantID, callID string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.byCall[tenantID+"\x00"+callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *appt
	out.Slots = maps.Clone(appt.Slots)
	return &out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
