package appointments

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreCreateAndGet(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "appointments.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	appt := &Appointment{
		TenantID:   "tenant-1",
		CallID:     "call-1",
		Slots:      map[string]string{"name": "jane doe", "address": "12 oak street", "problem": "no cooling"},
		TimeWindow: "tomorrow 8-10",
	}
	if err := store.Create(ctx, appt); err != nil {
		t.Fatalf("create: %v", err)
	}
	if appt.ID == "" {
		t.Fatal("create should assign an id")
	}

	got, err := store.GetByCall(ctx, "tenant-1", "call-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != appt.ID {
		t.Fatalf("id mismatch: %q vs %q", got.ID, appt.ID)
	}
	if got.Slots["address"] != "12 oak street" {
		t.Fatalf("slots not round-tripped: %v", got.Slots)
	}
	if got.TimeWindow != "tomorrow 8-10" {
		t.Fatalf("time window: %q", got.TimeWindow)
	}
}

func TestSQLiteStoreDuplicateCall(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "appointments.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	first := &Appointment{TenantID: "tenant-1", CallID: "call-1", Slots: map[string]string{"name": "jane"}}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := &Appointment{TenantID: "tenant-1", CallID: "call-1", Slots: map[string]string{"name": "jane"}}
	if err := store.Create(ctx, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// A different call for the same tenant is fine.
	other := &Appointment{TenantID: "tenant-1", CallID: "call-2", Slots: map[string]string{"name": "bob"}}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create for second call: %v", err)
	}
}

func TestSQLiteStoreNotFound(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "appointments.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetByCall(context.Background(), "tenant-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	appt := &Appointment{TenantID: "tenant-1", CallID: "call-1", Slots: map[string]string{"name": "jane"}}
	if err := store.Create(ctx, appt); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Appointment{TenantID: "tenant-1", CallID: "call-1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, err := store.GetByCall(ctx, "tenant-1", "call-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Slots["name"] != "jane" {
		t.Fatalf("slots: %v", got.Slots)
	}
	// Mutating the returned copy must not leak into the store.
	got.Slots["name"] = "mallory"
	again, _ := store.GetByCall(ctx, "tenant-1", "call-1")
	if again.Slots["name"] != "jane" {
		t.Fatal("store returned shared slot map")
	}
}
