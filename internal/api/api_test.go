package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

// Friday; the following Monday is 2024-12-23.
var testNow = time.Date(2024, 12, 20, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	now     *time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithRegistry(t, nil)
}

// newTestServerWithRegistry lets a test wrap the registry handed to the router.
func newTestServerWithRegistry(t *testing.T, wrap func(registry.Registry) registry.Registry) *testServer {
	t.Helper()

	dir, err := registry.LoadFile("../../configs/clinic.yaml")
	require.NoError(t, err)

	now := testNow
	clock := func() time.Time { return now }

	cal := availability.NewCalendar(availability.WithSource(dir))
	events := appointment.NewMemoryEventLog()
	ledger := appointment.NewLedger(appointment.NewMemoryStore(), appointment.WithClock(clock))
	reg := prometheus.NewRegistry()
	svc := appointment.NewService(ledger, cal, zerolog.Nop(),
		appointment.WithPatientLookup(dir),
		appointment.WithEventRecorder(events),
		appointment.WithMetrics(metrics.NewSchedulingMetrics(reg)),
	)

	var directory registry.Registry = dir
	if wrap != nil {
		directory = wrap(dir)
	}

	h := NewRouter(RouterConfig{
		Service:  svc,
		Calendar: cal,
		Registry: directory,
		Events:   events,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
		Now:      clock,
		Env:      "test",
		Version:  "test",
	})
	return &testServer{handler: h, now: &now}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func monday(h, m int) time.Time {
	return time.Date(2024, 12, 23, h, m, 0, 0, time.UTC)
}

func bookBody(patient, doctor string, start time.Time, minutes int) CreateAppointmentRequest {
	return CreateAppointmentRequest{PatientID: patient, DoctorID: doctor, Start: start, DurationMinutes: minutes}
}

func (s *testServer) book(t *testing.T, patient, doctor string, start time.Time, minutes int) AppointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", bookBody(patient, doctor, start, minutes))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AppointmentResponse](t, rec)
}

func TestCreateAppointmentAndConflict(t *testing.T) {
	s := newTestServer(t)

	appt := s.book(t, "1", "1", monday(9, 0), 30)
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, monday(9, 30), appt.End.UTC())
	assert.NotEmpty(t, appt.ID)

	rec := s.do(t, http.MethodPost, "/appointments", bookBody("2", "1", monday(9, 0), 30))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "doctor_conflict", decode[ErrorResponse](t, rec).Error)
}

func TestCreateAppointmentErrors(t *testing.T) {
	s := newTestServer(t)
	end := monday(24, 30)
	sunday := time.Date(2024, 12, 22, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad json", "{", http.StatusBadRequest, "invalid_request_body"},
		{"missing ids", CreateAppointmentRequest{Start: monday(9, 0), DurationMinutes: 30}, http.StatusBadRequest, "invalid_request_body"},
		{"no duration", CreateAppointmentRequest{PatientID: "1", DoctorID: "1", Start: monday(9, 0)}, http.StatusBadRequest, "invalid_interval"},
		{"crosses midnight", CreateAppointmentRequest{PatientID: "1", DoctorID: "1", Start: monday(23, 30), End: &end}, http.StatusBadRequest, "crosses_day_boundary"},
		{"sunday", bookBody("1", "2", sunday, 30), http.StatusConflict, "doctor_unavailable"},
		{"unknown patient", bookBody("99", "1", monday(9, 0), 30), http.StatusNotFound, "not_found"},
		{"unknown doctor", bookBody("1", "99", monday(9, 0), 30), http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	s := newTestServer(t)
	appt := s.book(t, "1", "1", monday(9, 0), 30)

	rec := s.do(t, http.MethodPost, "/appointments/"+appt.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "has not ended yet")

	*s.now = monday(10, 0)
	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/appointments/"+appt.ID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]EventResponse](t, rec)
	require.Len(t, events, 3)
	assert.Equal(t, appointment.EventAppointmentBooked, events[0].EventType)
	assert.Equal(t, appointment.EventAppointmentCompleted, events[2].EventType)
}

func TestCancelIsIdempotentOverHTTP(t *testing.T) {
	s := newTestServer(t)
	appt := s.book(t, "1", "1", monday(9, 0), 30)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/appointments/"+appt.ID+"/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)
	}

	rec := s.do(t, http.MethodPost, "/appointments/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescheduleKeepsDuration(t *testing.T) {
	s := newTestServer(t)
	appt := s.book(t, "1", "1", monday(9, 0), 45)
	s.book(t, "2", "1", monday(11, 0), 30)

	rec := s.do(t, http.MethodPost, "/appointments/"+appt.ID+"/reschedule", RescheduleRequest{Start: monday(14, 0)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, monday(14, 45), moved.End.UTC())

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID+"/reschedule", RescheduleRequest{Start: monday(10, 30)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "doctor_conflict", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/appointments/"+appt.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, monday(14, 0), decode[AppointmentResponse](t, rec).Start.UTC())
}

func TestListAppointmentsFilters(t *testing.T) {
	s := newTestServer(t)
	a := s.book(t, "1", "1", monday(11, 0), 30)
	s.book(t, "2", "2", monday(9, 0), 30)
	s.book(t, "1", "3", monday(15, 0), 30)
	rec := s.do(t, http.MethodPost, "/appointments/"+a.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[ListAppointmentsResponse](t, rec)
	require.Equal(t, 3, all.Count)
	assert.Equal(t, "2", all.Appointments[0].DoctorID)

	rec = s.do(t, http.MethodGet, "/appointments?patient_id=1&status=scheduled,confirmed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	filtered := decode[ListAppointmentsResponse](t, rec)
	require.Equal(t, 1, filtered.Count)
	assert.Equal(t, "3", filtered.Appointments[0].DoctorID)

	from := monday(8, 0).Format(time.RFC3339)
	to := monday(10, 0).Format(time.RFC3339)
	rec = s.do(t, http.MethodGet, "/appointments?from="+from+"&to="+to, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ListAppointmentsResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/appointments?status=pending", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/appointments?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoctorSlots(t *testing.T) {
	s := newTestServer(t)
	s.book(t, "1", "1", monday(9, 0), 30)

	from := monday(0, 0).Format(time.RFC3339)
	rec := s.do(t, http.MethodGet, "/doctors/1/slots?from="+from+"&duration_minutes=30&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SlotsResponse](t, rec)
	require.Len(t, resp.Slots, 3)
	assert.Equal(t, monday(8, 0), resp.Slots[0].Start.UTC())
	assert.Equal(t, monday(8, 30), resp.Slots[1].Start.UTC())
	assert.Equal(t, monday(9, 30), resp.Slots[2].Start.UTC())

	rec = s.do(t, http.MethodGet, "/doctors/1/slots?limit=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[SlotsResponse](t, rec).Slots)

	rec = s.do(t, http.MethodGet, "/doctors/99/slots", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/doctors/1/slots?duration_minutes=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoctorExceptionsAffectAvailability(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/doctors/1/availability?date=2024-12-23", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[AvailabilityResponse](t, rec).Windows, 1)

	rec = s.do(t, http.MethodPost, "/doctors/1/exceptions", `{"date":"2024-12-23","kind":"blocked","range":{"start":"12:00","end":"14:00"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/doctors/1/availability?date=2024-12-23", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	windows := decode[AvailabilityResponse](t, rec).Windows
	require.Len(t, windows, 2)
	assert.Equal(t, monday(12, 0), windows[0].End.UTC())
	assert.Equal(t, monday(14, 0), windows[1].Start.UTC())

	rec = s.do(t, http.MethodPost, "/appointments", bookBody("1", "1", monday(12, 30), 30))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "doctor_unavailable", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/doctors/1/exceptions", `{"date":"2024-12-23","kind":"closed","range":{"start":"12:00","end":"14:00"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingExceptionStore struct {
	registry.Registry
}

func (failingExceptionStore) AddException(context.Context, string, availability.Exception) error {
	return errors.New("connection reset by peer")
}

func TestAddExceptionKeepsCalendarWhenPersistFails(t *testing.T) {
	s := newTestServerWithRegistry(t, func(r registry.Registry) registry.Registry {
		return failingExceptionStore{r}
	})

	rec := s.do(t, http.MethodGet, "/doctors/1/availability?date=2024-12-23", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[AvailabilityResponse](t, rec).Windows, 1)

	rec = s.do(t, http.MethodPost, "/doctors/1/exceptions", `{"date":"2024-12-23","kind":"blocked","range":{"start":"12:00","end":"14:00"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/doctors/1/availability?date=2024-12-23", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[AvailabilityResponse](t, rec).Windows, 1)

	rec = s.do(t, http.MethodPost, "/appointments", bookBody("1", "1", monday(12, 30), 30))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAddExceptionUnknownDoctor(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/doctors/ghost/exceptions", `{"date":"2024-12-23","kind":"blocked","range":{"start":"12:00","end":"14:00"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Error)
}

func TestRegistryListings(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/doctors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]registry.Doctor](t, rec), 4)

	rec = s.do(t, http.MethodGet, "/patients", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]registry.Patient](t, rec), 5)

	rec = s.do(t, http.MethodGet, "/patients/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Leroy", decode[registry.Patient](t, rec).LastName)

	rec = s.do(t, http.MethodGet, "/doctors/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	s := newTestServer(t)
	s.book(t, "1", "1", monday(9, 0), 30)
	s.book(t, "2", "2", monday(10, 0), 30)

	rec := s.do(t, http.MethodGet, "/reports/summary?month=2024-12", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.ByStatus["scheduled"])

	rec = s.do(t, http.MethodGet, "/reports/summary?month=dec", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/reports/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash struct {
		TotalPatients         int `json:"total_patients"`
		ThisMonthAppointments int `json:"this_month_appointments"`
		ThisWeekAppointments  int `json:"this_week_appointments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.Equal(t, 5, dash.TotalPatients)
	assert.Equal(t, 2, dash.ThisMonthAppointments)
	assert.Equal(t, 0, dash.ThisWeekAppointments)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[ReadinessResponse](t, rec).Status)

	s.book(t, "1", "1", monday(9, 0), 30)
	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_scheduling_operations_total{operation="book",outcome="ok"} 1`)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return fmt.Errorf("connection refused") }

func TestReadinessReportsPostgresDown(t *testing.T) {
	h := NewHealthHandler(failingPinger{}, nil, "test", "v")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "down", resp.Dependencies["postgres"])
}

func TestWriteServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("book: %w", redisclient.ErrLockNotAcquired), http.StatusServiceUnavailable, "lock_not_acquired"},
		{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{availability.ErrNoSlot, http.StatusNotFound, "not_found"},
		{fmt.Errorf("db exploded"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", strings.NewReader(""))
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
