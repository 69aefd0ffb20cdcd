package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

const dateLayout = "2006-01-02"

// pgForeignKeyViolation is raised when an exception names an unknown doctor.
const pgForeignKeyViolation = "23503"

type PgRepository struct {
	db appointment.DBTX
}

// NewPgRepository accepts a pool or a transaction.
func NewPgRepository(db appointment.DBTX) *PgRepository {
	return &PgRepository{db: db}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p   Patient
		dob *time.Time
	)
	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.Address,
		&dob,
		&p.MedicalHistory,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrPatientNotFound
		}
		return nil, err
	}
	if dob != nil {
		p.DateOfBirth = dob.Format(dateLayout)
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.FirstName,
		&d.LastName,
		&d.Specialty,
		&d.Email,
		&d.Phone,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, availability.ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, phone, address, date_of_birth, medical_history, created_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) HasPatient(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, first_name, last_name, email, phone, address, date_of_birth, medical_history, created_at
		FROM patients
		ORDER BY last_name, first_name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, specialty, email, phone, created_at
		FROM doctors
		WHERE id = $1
	`, id)
	d, err := scanDoctor(row)
	if err != nil {
		if errors.Is(err, availability.ErrDoctorNotFound) {
			return nil, fmt.Errorf("%w: %s", err, id)
		}
		return nil, err
	}

	schedules, err := r.loadSchedules(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Schedule = schedules[id]

	if d.Exceptions, err = r.loadExceptions(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDoctors returns doctors with their weekly schedule. Exceptions are only loaded by GetDoctor.
func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, first_name, last_name, specialty, email, phone, created_at
		FROM doctors
		ORDER BY last_name, first_name, id
	`)
	if err != nil {
		return nil, err
	}
	result := make([]Doctor, 0)
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	schedules, err := r.loadSchedules(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Schedule = schedules[result[i].ID]
	}
	return result, nil
}

func (r *PgRepository) DoctorSchedule(ctx context.Context, id string) (availability.Schedule, error) {
	d, err := r.GetDoctor(ctx, id)
	if err != nil {
		return availability.Schedule{}, err
	}
	return d.AvailabilitySchedule()
}

// loadSchedules loads weekly entries keyed by doctor id. An empty doctorID loads every doctor.
func (r *PgRepository) loadSchedules(ctx context.Context, doctorID string) (map[string][]availability.ScheduleEntry, error) {
	sql := `SELECT doctor_id, day_of_week, start_minute, end_minute FROM doctor_schedules`
	var args []any
	if doctorID != "" {
		sql += ` WHERE doctor_id = $1`
		args = append(args, doctorID)
	}
	sql += ` ORDER BY doctor_id, day_of_week, start_minute`

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("load doctor schedules: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]availability.ScheduleEntry)
	for rows.Next() {
		var (
			id              string
			day, start, end int
		)
		if err := rows.Scan(&id, &day, &start, &end); err != nil {
			return nil, err
		}
		out[id] = append(out[id], availability.ScheduleEntry{
			DayOfWeek: day,
			Start:     availability.Clock(start),
			End:       availability.Clock(end),
		})
	}
	return out, rows.Err()
}

func (r *PgRepository) loadExceptions(ctx context.Context, doctorID string) ([]availability.Exception, error) {
	rows, err := r.db.Query(ctx, `
		SELECT exception_date, kind, start_minute, end_minute
		FROM availability_exceptions
		WHERE doctor_id = $1
		ORDER BY id
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability exceptions: %w", err)
	}
	defer rows.Close()

	var out []availability.Exception
	for rows.Next() {
		var (
			date       time.Time
			kind       string
			start, end int
		)
		if err := rows.Scan(&date, &kind, &start, &end); err != nil {
			return nil, err
		}
		out = append(out, availability.Exception{
			Date:  date.Format(dateLayout),
			Kind:  availability.ExceptionKind(kind),
			Range: availability.ClockRange{Start: availability.Clock(start), End: availability.Clock(end)},
		})
	}
	return out, rows.Err()
}

func (r *PgRepository) InsertDoctor(ctx context.Context, d Doctor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO doctors (id, first_name, last_name, specialty, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, d.ID, d.FirstName, d.LastName, d.Specialty, d.Email, d.Phone, nullableTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert doctor %s: %w", d.ID, err)
	}

	for _, e := range d.Schedule {
		_, err := r.db.Exec(ctx, `
			INSERT INTO doctor_schedules (doctor_id, day_of_week, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
		`, d.ID, e.DayOfWeek, int(e.Start), int(e.End))
		if err != nil {
			return fmt.Errorf("insert schedule for doctor %s: %w", d.ID, err)
		}
	}
	for _, e := range d.Exceptions {
		if err := r.AddException(ctx, d.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgRepository) InsertPatient(ctx context.Context, p Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var dob *time.Time
	if p.DateOfBirth != "" {
		t, err := time.Parse(dateLayout, p.DateOfBirth)
		if err != nil {
			return fmt.Errorf("patient %s date of birth: %w", p.ID, err)
		}
		dob = &t
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, email, phone, address, date_of_birth, medical_history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
	`, p.ID, p.FirstName, p.LastName, p.Email, p.Phone, p.Address, dob, p.MedicalHistory, nullableTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert patient %s: %w", p.ID, err)
	}
	return nil
}

func (r *PgRepository) AddException(ctx context.Context, doctorID string, e availability.Exception) error {
	if err := e.Validate(); err != nil {
		return err
	}
	date, _ := time.Parse(dateLayout, e.Date)
	_, err := r.db.Exec(ctx, `
		INSERT INTO availability_exceptions (doctor_id, exception_date, kind, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
	`, doctorID, date, string(e.Kind), int(e.Range.Start), int(e.Range.End))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("%w: %s", availability.ErrDoctorNotFound, doctorID)
		}
		return fmt.Errorf("insert exception for doctor %s: %w", doctorID, err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
