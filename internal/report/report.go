// Package report derives read-only views over appointments: monthly summaries
// and dashboard counters. Everything here is a pure function of its inputs.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

const monthLayout = "2006-01"

var allStatuses = []appointment.AppointmentStatus{
	appointment.StatusScheduled,
	appointment.StatusConfirmed,
	appointment.StatusCancelled,
	appointment.StatusCompleted,
	appointment.StatusNoShow,
}

type DoctorCount struct {
	DoctorID  string `json:"doctor_id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Count     int    `json:"count"`
}

type SpecialtyCount struct {
	Specialty string `json:"specialty"`
	Count     int    `json:"count"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Summary struct {
	Month            string                                `json:"month"`
	Total            int                                   `json:"total"`
	ByStatus         map[appointment.AppointmentStatus]int `json:"by_status"`
	ByDoctor         []DoctorCount                         `json:"by_doctor"`
	BySpecialty      []SpecialtyCount                      `json:"by_specialty"`
	Daily            []DayCount                            `json:"daily"`
	CancellationRate int                                   `json:"cancellation_rate_percent"`
	AveragePerDay    float64                               `json:"average_per_day"`
}

// ParseMonth parses YYYY-MM into the first instant of that month in loc.
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(monthLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: expected YYYY-MM", s)
	}
	return t, nil
}

// MonthRange returns [first of month, first of next month) for the month containing t.
func MonthRange(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, _ := t.In(loc).Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// Summarize counts the appointments starting in the month of month. Doctors
// with no appointments still appear so listings are complete. now bounds the
// per-day average for the current month.
func Summarize(month time.Time, loc *time.Location, appts []appointment.Appointment, doctors []registry.Doctor, now time.Time) Summary {
	start, end := MonthRange(month, loc)

	s := Summary{
		Month:    start.Format(monthLayout),
		ByStatus: make(map[appointment.AppointmentStatus]int, len(allStatuses)),
	}
	for _, st := range allStatuses {
		s.ByStatus[st] = 0
	}

	days := int(end.Sub(start).Hours()/24 + 0.5)
	daily := make([]DayCount, 0, days)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		daily = append(daily, DayCount{Date: d.Format("2006-01-02")})
	}

	perDoctor := make(map[string]int)
	for _, a := range appts {
		startsAt := a.Interval.Start.In(loc)
		if startsAt.Before(start) || !startsAt.Before(end) {
			continue
		}
		s.Total++
		s.ByStatus[a.Status]++
		perDoctor[a.DoctorID]++
		daily[startsAt.Day()-1].Count++
	}
	s.Daily = daily

	specIndex := make(map[string]int)
	s.ByDoctor = make([]DoctorCount, 0, len(doctors))
	s.BySpecialty = make([]SpecialtyCount, 0)
	for _, d := range doctors {
		n := perDoctor[d.ID]
		s.ByDoctor = append(s.ByDoctor, DoctorCount{DoctorID: d.ID, Name: d.FullName(), Specialty: d.Specialty, Count: n})

		i, ok := specIndex[d.Specialty]
		if !ok {
			i = len(s.BySpecialty)
			specIndex[d.Specialty] = i
			s.BySpecialty = append(s.BySpecialty, SpecialtyCount{Specialty: d.Specialty})
		}
		s.BySpecialty[i].Count += n
	}

	if s.Total > 0 {
		s.CancellationRate = int(math.Round(float64(s.ByStatus[appointment.StatusCancelled]) / float64(s.Total) * 100))
	}

	elapsed := len(daily)
	if nowLocal := now.In(loc); !nowLocal.Before(start) && nowLocal.Before(end) {
		elapsed = nowLocal.Day()
	}
	if !now.In(loc).Before(start) {
		s.AveragePerDay = math.Round(float64(s.Total)/float64(elapsed)*10) / 10
	}
	return s
}

type DashboardStats struct {
	TotalPatients         int `json:"total_patients"`
	TotalDoctors          int `json:"total_doctors"`
	TodayAppointments     int `json:"today_appointments"`
	ThisWeekAppointments  int `json:"this_week_appointments"`
	ThisMonthAppointments int `json:"this_month_appointments"`
}

// Dashboard counts appointments starting today, this week (Monday first) and this month, in loc.
func Dashboard(now time.Time, loc *time.Location, appts []appointment.Appointment, patients, doctors int) DashboardStats {
	local := now.In(loc)
	y, m, d := local.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	offset := (int(local.Weekday()) + 6) % 7
	weekStart := dayStart.AddDate(0, 0, -offset)
	weekEnd := weekStart.AddDate(0, 0, 7)
	monthStart, monthEnd := MonthRange(local, loc)

	stats := DashboardStats{TotalPatients: patients, TotalDoctors: doctors}
	for _, a := range appts {
		s := a.Interval.Start
		if within(s, dayStart, dayEnd) {
			stats.TodayAppointments++
		}
		if within(s, weekStart, weekEnd) {
			stats.ThisWeekAppointments++
		}
		if within(s, monthStart, monthEnd) {
			stats.ThisMonthAppointments++
		}
	}
	return stats
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
