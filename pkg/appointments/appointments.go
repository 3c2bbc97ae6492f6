package appointments

import (
	"context"
	"errors"
	"time"
)

// Appointment is a booked visit. CallID ties it to the call that booked
// it; the store enforces at most one appointment per (tenant, call).
type Appointment struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	CallID     string            `json:"callId"`
	Slots      map[string]string `json:"slots"`
	TimeWindow string            `json:"timeWindow,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ErrDuplicate is returned when an appointment already exists for the
// call. Callers treat it as success after re-reading the existing row.
var ErrDuplicate = errors.New("appointment already exists for call")

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("appointment not found")

// Store persists appointments.
type Store interface {
	// Create inserts the appointment. Returns ErrDuplicate when the
	// (tenant, call) pair already has one.
	Create(ctx context.Context, appt *Appointment) error
	// GetByCall returns the appointment booked by a call, or ErrNotFound.
	GetByCall(ctx context.Context, tenantID, callID string) (*Appointment, error)
	Close() error
}
