package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrCrossesDayBoundary = errors.New("interval crosses a day boundary")
	ErrNoSlot             = errors.New("no available slot within search horizon")
	ErrInvalidSchedule    = errors.New("invalid schedule")
)

const dateLayout = "2006-01-02"

type ExceptionKind string

const (
	ExceptionBlocked ExceptionKind = "blocked"
	ExceptionAdded   ExceptionKind = "added"
)

// ScheduleEntry is one weekly opening, Sunday = 0.
type ScheduleEntry struct {
	DayOfWeek int   `json:"day_of_week" yaml:"day_of_week" validate:"min=0,max=6"`
	Start     Clock `json:"start_time" yaml:"start_time"`
	End       Clock `json:"end_time" yaml:"end_time"`
}

// WeeklyAvailability maps a weekday to sorted, non-overlapping ranges.
type WeeklyAvailability map[time.Weekday][]ClockRange

// NewWeekly groups entries by weekday. Overlapping entries on the same day are rejected.
func NewWeekly(entries []ScheduleEntry) (WeeklyAvailability, error) {
	w := make(WeeklyAvailability)
	for _, e := range entries {
		if e.DayOfWeek < 0 || e.DayOfWeek > 6 {
			return nil, fmt.Errorf("%w: day of week %d", ErrInvalidSchedule, e.DayOfWeek)
		}
		day := time.Weekday(e.DayOfWeek)
		w[day] = append(w[day], ClockRange{Start: e.Start, End: e.End})
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate sorts each day in place and checks the ranges do not overlap.
func (w WeeklyAvailability) Validate() error {
	for day, ranges := range w {
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
		for i, r := range ranges {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
			if i > 0 && r.Start < ranges[i-1].End {
				return fmt.Errorf("%w: %s ranges %s and %s overlap", ErrInvalidSchedule, day, ranges[i-1], r)
			}
		}
		w[day] = ranges
	}
	return nil
}

// Entries flattens the template back to schedule entries ordered by day then start.
func (w WeeklyAvailability) Entries() []ScheduleEntry {
	var out []ScheduleEntry
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, r := range w[day] {
			out = append(out, ScheduleEntry{DayOfWeek: int(day), Start: r.Start, End: r.End})
		}
	}
	return out
}

func (w WeeklyAvailability) clone() WeeklyAvailability {
	out := make(WeeklyAvailability, len(w))
	for day, ranges := range w {
		out[day] = append([]ClockRange(nil), ranges...)
	}
	return out
}

// Exception overrides the weekly template on one calendar date.
type Exception struct {
	Date  string        `json:"date" yaml:"date" validate:"required,datetime=2006-01-02"`
	Kind  ExceptionKind `json:"kind" yaml:"kind" validate:"required,oneof=blocked added"`
	Range ClockRange    `json:"range" yaml:"range"`
}

func (e Exception) Validate() error {
	if _, err := time.Parse(dateLayout, e.Date); err != nil {
		return fmt.Errorf("%w: exception date %q", ErrInvalidSchedule, e.Date)
	}
	if e.Kind != ExceptionBlocked && e.Kind != ExceptionAdded {
		return fmt.Errorf("%w: exception kind %q", ErrInvalidSchedule, e.Kind)
	}
	return e.Range.Validate()
}

// Schedule is everything the calendar knows about one doctor.
type Schedule struct {
	Weekly     WeeklyAvailability
	Exceptions []Exception
}
