package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgExclusionViolation is raised by the appointments_no_overlap constraint.
const pgExclusionViolation = "23P01"

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `id, patient_id, doctor_id, start_time, end_time, status, notes, created_at, updated_at, version`

type PgStore struct {
	db DBTX
}

func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		status string
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Interval.Start,
		&a.Interval.End,
		&status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	return &a, nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) Insert(ctx context.Context, a *Appointment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.PatientID, a.DoctorID, a.Interval.Start, a.Interval.End, string(a.Status), a.Notes, a.CreatedAt, a.UpdatedAt, a.Version)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PgStore) Update(ctx context.Context, a *Appointment) error {
	var version int64
	err := s.db.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    status = $4,
		    notes = $5,
		    updated_at = $6,
		    version = version + 1
		WHERE id = $1 AND version = $7
		RETURNING version
	`, a.ID, a.Interval.Start, a.Interval.End, string(a.Status), a.Notes, a.UpdatedAt, a.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingOrStale(ctx, a.ID)
	}
	if err != nil {
		return mapPgError(err)
	}
	a.Version = version
	return nil
}

func (s *PgStore) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrStaleAppointment
}

func (s *PgStore) Query(ctx context.Context, f Filter) ([]Appointment, error) {
	where, args := buildFilter(f)

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, ` AND `)
	}
	sql += ` ORDER BY start_time, id`

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func buildFilter(f Filter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.Overlapping != nil {
		add("start_time < $%d", f.Overlapping.End)
		add("end_time > $%d", f.Overlapping.Start)
	}
	if !f.EndedBy.IsZero() {
		add("end_time <= $%d", f.EndedBy)
	}
	return where, args
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return fmt.Errorf("%w: %s", ErrDoctorConflict, pgErr.ConstraintName)
	}
	return err
}

// PgEventLog writes the appointment audit trail to event_logs.
type PgEventLog struct {
	db DBTX
}

func NewPgEventLog(db DBTX) *PgEventLog {
	return &PgEventLog{db: db}
}

func (l *PgEventLog) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *string
	if ev.AppointmentID != "" {
		appID = &ev.AppointmentID
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListEvents returns the events of one appointment, oldest first.
func (l *PgEventLog) ListEvents(ctx context.Context, appointmentID string) ([]EventLog, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var out []EventLog
	for rows.Next() {
		var (
			ev    EventLog
			appID *string
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &appID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if appID != nil {
			ev.AppointmentID = *appID
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
