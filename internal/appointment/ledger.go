package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// Ledger is the single writer of the appointment collection. It enforces that
// active appointments of one doctor never overlap.
type Ledger struct {
	store  Store
	locker Locker
	now    func() time.Time
	newID  func() string
}

type LedgerOption func(*Ledger)

func WithLocker(l Locker) LedgerOption {
	return func(led *Ledger) {
		if l != nil {
			led.locker = l
		}
	}
}

func WithClock(now func() time.Time) LedgerOption {
	return func(led *Ledger) {
		if now != nil {
			led.now = now
		}
	}
}

func WithIDGenerator(gen func() string) LedgerOption {
	return func(led *Ledger) {
		if gen != nil {
			led.newID = gen
		}
	}
}

// newAppointmentID returns a UUIDv7 so ids sort by creation time.
func newAppointmentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	if store == nil {
		panic("appointment: store required")
	}
	l := &Ledger{
		store:  store,
		locker: NewLocalLocker(),
		now:    time.Now,
		newID:  newAppointmentID,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Now() time.Time {
	return l.now()
}

// Insert creates a scheduled appointment unless it overlaps an active one for the same doctor.
func (l *Ledger) Insert(ctx context.Context, patientID, doctorID string, iv interval.Interval, notes string) (*Appointment, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}

	var created *Appointment
	err := l.locker.WithDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		// Inside the critical section re-check for overlapping active appointments
		if err := l.checkConflict(lockCtx, doctorID, iv, ""); err != nil {
			return err
		}

		now := l.now()
		appt := &Appointment{
			ID:        l.newID(),
			PatientID: patientID,
			DoctorID:  doctorID,
			Interval:  iv,
			Status:    StatusScheduled,
			Notes:     notes,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		if err := l.store.Insert(lockCtx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Reschedule moves an appointment to newIv. On any failure the stored interval is untouched.
func (l *Ledger) Reschedule(ctx context.Context, id string, newIv interval.Interval) (*Appointment, error) {
	if err := newIv.Validate(); err != nil {
		return nil, err
	}
	return l.mutate(ctx, id, func(lockCtx context.Context, appt *Appointment) (bool, error) {
		if appt.Status.IsTerminal() {
			return false, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
		}
		if err := l.checkConflict(lockCtx, appt.DoctorID, newIv, appt.ID); err != nil {
			return false, err
		}
		appt.Interval = newIv
		return true, nil
	})
}

// Cancel is idempotent on cancelled appointments.
func (l *Ledger) Cancel(ctx context.Context, id string) (*Appointment, error) {
	return l.mutate(ctx, id, func(_ context.Context, appt *Appointment) (bool, error) {
		if appt.Status == StatusCancelled {
			return false, nil
		}
		return l.transition(appt, StatusCancelled, false)
	})
}

func (l *Ledger) Confirm(ctx context.Context, id string) (*Appointment, error) {
	return l.mutate(ctx, id, func(_ context.Context, appt *Appointment) (bool, error) {
		return l.transition(appt, StatusConfirmed, false)
	})
}

// Complete requires the appointment to have ended.
func (l *Ledger) Complete(ctx context.Context, id string) (*Appointment, error) {
	return l.mutate(ctx, id, func(_ context.Context, appt *Appointment) (bool, error) {
		return l.transition(appt, StatusCompleted, true)
	})
}

// MarkNoShow requires the appointment to have ended.
func (l *Ledger) MarkNoShow(ctx context.Context, id string) (*Appointment, error) {
	return l.mutate(ctx, id, func(_ context.Context, appt *Appointment) (bool, error) {
		return l.transition(appt, StatusNoShow, true)
	})
}

func (l *Ledger) Get(ctx context.Context, id string) (*Appointment, error) {
	return l.store.Get(ctx, id)
}

func (l *Ledger) Query(ctx context.Context, f Filter) ([]Appointment, error) {
	return l.store.Query(ctx, f)
}

func (l *Ledger) transition(appt *Appointment, next AppointmentStatus, mustHaveEnded bool) (bool, error) {
	if !appt.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, next)
	}
	if mustHaveEnded && appt.Interval.End.After(l.now()) {
		return false, fmt.Errorf("%w: appointment %s has not ended yet", ErrInvalidTransition, appt.ID)
	}
	appt.Status = next
	return true, nil
}

// maxUpdateAttempts bounds how often mutate reapplies fn after another
// process updated the appointment first.
const maxUpdateAttempts = 3

// mutate loads the appointment, then reloads and applies fn inside its doctor's
// critical section. The store rejects the write if the version changed since the
// reload, in which case fn runs again on the fresh row.
func (l *Ledger) mutate(ctx context.Context, id string, fn func(ctx context.Context, appt *Appointment) (bool, error)) (*Appointment, error) {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var result *Appointment
		result, err = l.mutateOnce(ctx, id, fn)
		if !errors.Is(err, ErrStaleAppointment) {
			return result, err
		}
	}
	return nil, err
}

func (l *Ledger) mutateOnce(ctx context.Context, id string, fn func(ctx context.Context, appt *Appointment) (bool, error)) (*Appointment, error) {
	current, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *Appointment
	err = l.locker.WithDoctorLock(ctx, current.DoctorID, func(lockCtx context.Context) error {
		appt, err := l.store.Get(lockCtx, id)
		if err != nil {
			return err
		}
		changed, err := fn(lockCtx, appt)
		if err != nil {
			return err
		}
		if changed {
			appt.UpdatedAt = l.now()
			if err := l.store.Update(lockCtx, appt); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}
		}
		result = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Ledger) checkConflict(ctx context.Context, doctorID string, iv interval.Interval, excludeID string) error {
	existing, err := l.store.Query(ctx, Filter{
		DoctorID:    doctorID,
		Statuses:    ActiveStatuses,
		Overlapping: &iv,
	})
	if err != nil {
		return fmt.Errorf("check conflicts: %w", err)
	}
	for _, a := range existing {
		if a.ID == excludeID {
			continue
		}
		return fmt.Errorf("%w: %s overlaps appointment %s %s", ErrDoctorConflict, iv, a.ID, a.Interval)
	}
	return nil
}
