package appointments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chatterlinx/frontdesk/pkg/errorsx"
)

const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	call_id     TEXT NOT NULL,
	slots       TEXT NOT NULL,
	time_window TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	UNIQUE(tenant_id, call_id)
);
`

// SQLiteStore persists appointments in a local SQLite database. The
// UNIQUE(tenant_id, call_id) constraint is what makes booking idempotent
// across process restarts, not just within one session.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("open appointment db: %w", err), errorsx.ReasonAppointmentStore)
	}
	// SQLite writes are single-threaded anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errorsx.Wrap(fmt.Errorf("create appointments table: %w", err), errorsx.ReasonAppointmentStore)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, appt *Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	slots, err := json.Marshal(appt.Slots)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("encode slots: %w", err), errorsx.ReasonAppointmentStore)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, tenant_id, call_id, slots, time_window, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		appt.ID, appt.TenantID, appt.CallID, string(slots), appt.TimeWindow,
		appt.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return errorsx.Wrap(fmt.Errorf("insert appointment: %w", err), errorsx.ReasonAppointmentStore)
	}
	return nil
}

func (s *SQLiteStore) GetByCall(ctx context.Context, tenantID, callID string) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, call_id, slots, time_window, created_at
		 FROM appointments WHERE tenant_id = ? AND call_id = ?`,
		tenantID, callID)

	var appt Appointment
	var slots, createdAt string
	err := row.Scan(&appt.ID, &appt.TenantID, &appt.CallID, &slots, &appt.TimeWindow, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("query appointment: %w", err), errorsx.ReasonAppointmentStore)
	}
	if err := json.Unmarshal([]byte(slots), &appt.Slots); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode slots: %w", err), errorsx.ReasonAppointmentStore)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		appt.CreatedAt = ts
	}
	return &appt, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation matches the driver's constraint error without
// binding to its concrete error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
