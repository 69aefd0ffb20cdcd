package registry

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-scheduling/internal/availability"
)

var specialties = []string{
	"General Practice",
	"Cardiology",
	"Dermatology",
	"Pediatrics",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var conditions = []string{
	"Hypertension",
	"Type 2 diabetes",
	"Mild asthma",
	"Chronic migraine",
	"Osteoarthritis",
	"Seasonal allergies",
	"No known conditions",
}

// shiftPatterns are typical opening hours; a fake doctor works one of them on 3 to 5 weekdays.
var shiftPatterns = [][2]string{
	{"08:00", "18:00"},
	{"09:00", "17:00"},
	{"10:00", "18:00"},
	{"08:30", "17:30"},
	{"08:00", "12:00"},
}

// FakeDoctor builds a doctor with a plausible weekday schedule.
func FakeDoctor(f *gofakeit.Faker, id string) Doctor {
	shift := shiftPatterns[f.Number(0, len(shiftPatterns)-1)]
	days := f.Number(3, 5)
	first := f.Number(1, 6-days)

	var schedule []availability.ScheduleEntry
	for d := first; d < first+days; d++ {
		schedule = append(schedule, availability.ScheduleEntry{
			DayOfWeek: d,
			Start:     availability.MustClock(shift[0]),
			End:       availability.MustClock(shift[1]),
		})
	}

	return Doctor{
		ID:        id,
		FirstName: f.FirstName(),
		LastName:  f.LastName(),
		Specialty: specialties[f.Number(0, len(specialties)-1)],
		Email:     f.Email(),
		Phone:     f.Phone(),
		Schedule:  schedule,
		CreatedAt: time.Now().UTC(),
	}
}

func FakePatient(f *gofakeit.Faker, id string) Patient {
	dob := f.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	return Patient{
		ID:             id,
		FirstName:      f.FirstName(),
		LastName:       f.LastName(),
		Email:          f.Email(),
		Phone:          f.Phone(),
		Address:        fmt.Sprintf("%s, %s %s", f.Street(), f.Zip(), f.City()),
		DateOfBirth:    dob.Format("2006-01-02"),
		MedicalHistory: conditions[f.Number(0, len(conditions)-1)],
		CreatedAt:      time.Now().UTC(),
	}
}

// NewFakeDirectory fills a directory with generated doctors doc-1..doc-N and patients pat-1..pat-M.
func NewFakeDirectory(f *gofakeit.Faker, doctors, patients int) (*Directory, error) {
	dir := NewDirectory()
	for i := 1; i <= doctors; i++ {
		if err := dir.AddDoctor(FakeDoctor(f, fmt.Sprintf("doc-%d", i))); err != nil {
			return nil, err
		}
	}
	for i := 1; i <= patients; i++ {
		if err := dir.AddPatient(FakePatient(f, fmt.Sprintf("pat-%d", i))); err != nil {
			return nil, err
		}
	}
	return dir, nil
}
