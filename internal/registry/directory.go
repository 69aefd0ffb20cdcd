package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

// Directory is an in-memory registry. Listings keep insertion order.
type Directory struct {
	mu           sync.RWMutex
	doctors      map[string]*Doctor
	doctorOrder  []string
	patients     map[string]*Patient
	patientOrder []string
}

func NewDirectory() *Directory {
	return &Directory{
		doctors:  make(map[string]*Doctor),
		patients: make(map[string]*Patient),
	}
}

func (d *Directory) AddDoctor(doc Doctor) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.doctors[doc.ID]; exists {
		return fmt.Errorf("doctor %s already registered", doc.ID)
	}
	d.doctors[doc.ID] = &doc
	d.doctorOrder = append(d.doctorOrder, doc.ID)
	return nil
}

func (d *Directory) AddPatient(p Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.patients[p.ID]; exists {
		return fmt.Errorf("patient %s already registered", p.ID)
	}
	d.patients[p.ID] = &p
	d.patientOrder = append(d.patientOrder, p.ID)
	return nil
}

func (d *Directory) ListDoctors(ctx context.Context) ([]Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Doctor, 0, len(d.doctorOrder))
	for _, id := range d.doctorOrder {
		out = append(out, copyDoctor(d.doctors[id]))
	}
	return out, nil
}

func (d *Directory) ListPatients(ctx context.Context) ([]Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Patient, 0, len(d.patientOrder))
	for _, id := range d.patientOrder {
		out = append(out, *d.patients[id])
	}
	return out, nil
}

func (d *Directory) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", availability.ErrDoctorNotFound, id)
	}
	out := copyDoctor(doc)
	return &out, nil
}

func (d *Directory) GetPatient(ctx context.Context, id string) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", appointment.ErrPatientNotFound, id)
	}
	out := *p
	return &out, nil
}

func (d *Directory) HasPatient(ctx context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.patients[id]
	return ok, nil
}

func (d *Directory) DoctorSchedule(ctx context.Context, id string) (availability.Schedule, error) {
	doc, err := d.GetDoctor(ctx, id)
	if err != nil {
		return availability.Schedule{}, err
	}
	return doc.AvailabilitySchedule()
}

// AddException records an override on the doctor so that later schedule loads see it.
func (d *Directory) AddException(ctx context.Context, doctorID string, e availability.Exception) error {
	if err := e.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.doctors[doctorID]
	if !ok {
		return fmt.Errorf("%w: %s", availability.ErrDoctorNotFound, doctorID)
	}
	doc.Exceptions = append(doc.Exceptions, e)
	return nil
}

func copyDoctor(doc *Doctor) Doctor {
	out := *doc
	out.Schedule = append([]availability.ScheduleEntry(nil), doc.Schedule...)
	out.Exceptions = append([]availability.Exception(nil), doc.Exceptions...)
	return out
}
