package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/report"
)

const (
	defaultSlotMinutes = 30
	defaultSlotLimit   = 10
	maxSlotLimit       = 100
)

// Bounds used when a list query gives only one side of the range.
var (
	rangeFloor   = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeCeiling = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

type CalendarView interface {
	Windows(ctx context.Context, doctorID string, date time.Time) ([]interval.Interval, error)
	SyncException(doctorID string, e availability.Exception) error
}

type EventLister interface {
	ListEvents(ctx context.Context, appointmentID string) ([]appointment.EventLog, error)
}

type Handlers struct {
	svc      *appointment.Service
	calendar CalendarView
	registry registry.Registry
	events   EventLister
	loc      *time.Location
	now      func() time.Time
}

func (h *Handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.PatientID == "" || req.DoctorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "patient_id and doctor_id are required")
		return
	}

	iv, err := resolveInterval(req.Start, req.End, req.DurationMinutes)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	appt, err := h.svc.Book(r.Context(), appointment.BookRequest{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Interval:  iv,
		Notes:     req.Notes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	resp.Count = len(resp.Appointments)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// transition serves the cancel/confirm/complete/no-show endpoints.
func (h *Handlers) transition(apply func(context.Context, string) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := apply(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func (h *Handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	minutes := req.DurationMinutes
	if req.End == nil && minutes == 0 {
		current, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		minutes = interval.DurationMinutes(current.Interval)
	}

	iv, err := resolveInterval(req.Start, req.End, minutes)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), id, iv)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) appointmentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]EventResponse, 0)
	if h.events != nil {
		events, err := h.events.ListEvents(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		for _, ev := range events {
			resp = append(resp, EventResponse{
				ID:        ev.ID,
				EventType: ev.EventType,
				Payload:   json.RawMessage(ev.Payload),
				CreatedAt: ev.CreatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) doctorSlots(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "id")
	q := r.URL.Query()

	from := h.now()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "from must be RFC3339")
			return
		}
		from = t
	}
	minutes, err := intParam(q, "duration_minutes", defaultSlotMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	limit, err := intParam(q, "limit", defaultSlotLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if limit > maxSlotLimit {
		limit = maxSlotLimit
	}

	slots, err := h.svc.FindAvailableSlots(r.Context(), doctorID, from, minutes, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, DurationMinutes: minutes, Slots: slots})
}

func (h *Handlers) doctorAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "id")

	date := h.now().In(h.loc)
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "date must be YYYY-MM-DD")
			return
		}
		date = t
	}

	windows, err := h.calendar.Windows(r.Context(), doctorID, date)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{DoctorID: doctorID, Date: date.Format("2006-01-02"), Windows: windows})
}

func (h *Handlers) addException(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "id")

	var e availability.Exception
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	if err := e.Validate(); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.registry.AddException(r.Context(), doctorID, e); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.calendar.SyncException(doctorID, e); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handlers) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.registry.ListDoctors(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (h *Handlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	doc, err := h.registry.GetDoctor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handlers) listPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.registry.ListPatients(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (h *Handlers) getPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) reportSummary(w http.ResponseWriter, r *http.Request) {
	month := h.now().In(h.loc)
	if v := r.URL.Query().Get("month"); v != "" {
		t, err := report.ParseMonth(v, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		month = t
	}

	start, end := report.MonthRange(month, h.loc)
	window := interval.Interval{Start: start, End: end}
	appts, err := h.svc.List(r.Context(), appointment.Filter{Overlapping: &window})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	doctors, err := h.registry.ListDoctors(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Summarize(month, h.loc, appts, doctors, h.now()))
}

func (h *Handlers) reportDashboard(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	// Wide enough for the current week and month
	window := interval.Interval{Start: now.AddDate(0, 0, -38), End: now.AddDate(0, 0, 38)}
	appts, err := h.svc.List(r.Context(), appointment.Filter{Overlapping: &window})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	doctors, err := h.registry.ListDoctors(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	patients, err := h.registry.ListPatients(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Dashboard(now, h.loc, appts, len(patients), len(doctors)))
}

func parseFilter(q url.Values) (appointment.Filter, error) {
	f := appointment.Filter{
		DoctorID:  q.Get("doctor_id"),
		PatientID: q.Get("patient_id"),
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st, err := appointment.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				return appointment.Filter{}, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	from, to := rangeFloor, rangeCeiling
	var bounded bool
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return appointment.Filter{}, fmt.Errorf("from must be RFC3339")
		}
		from, bounded = t, true
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return appointment.Filter{}, fmt.Errorf("to must be RFC3339")
		}
		to, bounded = t, true
	}
	if bounded {
		window, err := interval.New(from, to)
		if err != nil {
			return appointment.Filter{}, fmt.Errorf("from must be before to")
		}
		f.Overlapping = &window
	}
	return f, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

var kindStatus = map[appointment.ErrorKind]int{
	appointment.KindInvalidInterval:    http.StatusBadRequest,
	appointment.KindCrossesDayBoundary: http.StatusBadRequest,
	appointment.KindDoctorUnavailable:  http.StatusConflict,
	appointment.KindDoctorConflict:     http.StatusConflict,
	appointment.KindNotFound:           http.StatusNotFound,
	appointment.KindInvalidTransition:  http.StatusConflict,
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusServiceUnavailable, "lock_not_acquired", "doctor is busy, please retry shortly")
		return
	case errors.Is(err, availability.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
		return
	}

	kind := appointment.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		writeError(w, http.StatusInternalServerError, string(appointment.KindInternal), "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}
