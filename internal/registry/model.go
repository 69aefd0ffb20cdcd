package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/clinic-scheduling/internal/availability"
)

var validate = validator.New()

type Doctor struct {
	ID         string                       `json:"id" yaml:"id" validate:"required"`
	FirstName  string                       `json:"first_name" yaml:"first_name" validate:"required"`
	LastName   string                       `json:"last_name" yaml:"last_name" validate:"required"`
	Specialty  string                       `json:"specialty" yaml:"specialty"`
	Email      string                       `json:"email" yaml:"email" validate:"omitempty,email"`
	Phone      string                       `json:"phone" yaml:"phone"`
	Schedule   []availability.ScheduleEntry `json:"schedule" yaml:"schedule" validate:"dive"`
	Exceptions []availability.Exception     `json:"exceptions,omitempty" yaml:"exceptions" validate:"dive"`
	CreatedAt  time.Time                    `json:"created_at" yaml:"created_at"`
}

func (d Doctor) FullName() string {
	return d.FirstName + " " + d.LastName
}

// AvailabilitySchedule converts the registry record into what the calendar consumes.
func (d Doctor) AvailabilitySchedule() (availability.Schedule, error) {
	weekly, err := availability.NewWeekly(d.Schedule)
	if err != nil {
		return availability.Schedule{}, fmt.Errorf("doctor %s: %w", d.ID, err)
	}
	return availability.Schedule{
		Weekly:     weekly,
		Exceptions: append([]availability.Exception(nil), d.Exceptions...),
	}, nil
}

func (d Doctor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("doctor %q: %w", d.ID, err)
	}
	if _, err := d.AvailabilitySchedule(); err != nil {
		return err
	}
	for _, e := range d.Exceptions {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("doctor %s: %w", d.ID, err)
		}
	}
	return nil
}

type Patient struct {
	ID             string    `json:"id" yaml:"id" validate:"required"`
	FirstName      string    `json:"first_name" yaml:"first_name" validate:"required"`
	LastName       string    `json:"last_name" yaml:"last_name" validate:"required"`
	Email          string    `json:"email" yaml:"email" validate:"omitempty,email"`
	Phone          string    `json:"phone" yaml:"phone"`
	Address        string    `json:"address" yaml:"address"`
	DateOfBirth    string    `json:"date_of_birth" yaml:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	MedicalHistory string    `json:"medical_history" yaml:"medical_history"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

func (p Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

func (p Patient) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("patient %q: %w", p.ID, err)
	}
	return nil
}

// Registry is the read side used by the API, the calendar and the scheduling service.
type Registry interface {
	availability.Source
	HasPatient(ctx context.Context, patientID string) (bool, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	ListPatients(ctx context.Context) ([]Patient, error)
	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
	AddException(ctx context.Context, doctorID string, e availability.Exception) error
}
