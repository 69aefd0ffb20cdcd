package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

func newAPI(t *testing.T) string {
	t.Helper()
	dir, err := registry.LoadFile("../../configs/clinic.yaml")
	require.NoError(t, err)

	cal := availability.NewCalendar(availability.WithSource(dir))
	svc := appointment.NewService(appointment.NewLedger(appointment.NewMemoryStore()), cal, zerolog.Nop(),
		appointment.WithPatientLookup(dir))
	reg := prometheus.NewRegistry()

	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Service:  svc,
		Calendar: cal,
		Registry: dir,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(base string, args ...string) result {
	var out, errOut bytes.Buffer
	code := run(context.Background(), append([]string{"-api", base}, args...), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

// 2030-01-07 is a Monday.
const monday = "2030-01-07"

func bookArgs(patient, doctor, start string, extra ...string) []string {
	return append([]string{"book", "-patient", patient, "-doctor", doctor, "-start", start}, extra...)
}

func TestBookAndConflictExitCodes(t *testing.T) {
	base := newAPI(t)

	res := runCLI(base, bookArgs("1", "1", monday+"T09:00:00Z")...)
	require.Equal(t, exitOK, res.code, res.stderr)
	var appt struct {
		ID              string `json:"id"`
		Status          string `json:"status"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &appt))
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, 30, appt.DurationMinutes)

	res = runCLI(base, bookArgs("2", "1", monday+"T09:15:00Z")...)
	assert.Equal(t, exitDoctorConflict, res.code)
	assert.Contains(t, res.stderr, "doctor_conflict")

	res = runCLI(base, "confirm", appt.ID)
	assert.Equal(t, exitOK, res.code, res.stderr)
	res = runCLI(base, "confirm", appt.ID)
	assert.Equal(t, exitInvalidTransition, res.code)

	res = runCLI(base, "reschedule", appt.ID, "-start", monday+"T14:00:00Z")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "14:00:00Z")

	res = runCLI(base, "get", appt.ID)
	assert.Equal(t, exitOK, res.code)
}

func TestErrorExitCodes(t *testing.T) {
	base := newAPI(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"end before start", bookArgs("1", "1", monday+"T10:00:00Z", "-end", monday+"T09:00:00Z"), exitInvalidInterval},
		{"crosses midnight", bookArgs("1", "1", monday+"T23:30:00Z", "-end", "2030-01-08T00:30:00Z"), exitCrossesDay},
		{"sunday", bookArgs("1", "1", "2030-01-06T10:00:00Z"), exitDoctorUnavailable},
		{"unknown appointment", []string{"cancel", "nope"}, exitNotFound},
		{"unknown doctor slots", []string{"find-slots", "-doctor", "99"}, exitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(base, tt.args...)
			assert.Equal(t, tt.code, res.code, res.stderr)
		})
	}
}

func TestUsageErrors(t *testing.T) {
	base := newAPI(t)

	tests := map[string][]string{
		"no command":      {},
		"unknown command": {"explode"},
		"book no patient": {"book", "-doctor", "1", "-start", monday + "T09:00:00Z"},
		"book bad start":  {"book", "-patient", "1", "-doctor", "1", "-start", "tomorrow"},
		"cancel no id":    {"cancel"},
		"bad flag":        {"list", "-color", "red"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, exitUsage, runCLI(base, args...).code)
		})
	}
}

func TestFindSlotsAndList(t *testing.T) {
	base := newAPI(t)
	require.Equal(t, exitOK, runCLI(base, bookArgs("1", "1", monday+"T08:00:00Z")...).code)

	res := runCLI(base, "find-slots", "-doctor", "1", "-from", monday+"T00:00:00Z", "-limit", "2")
	require.Equal(t, exitOK, res.code, res.stderr)
	var slots struct {
		Slots []struct {
			Start time.Time `json:"start"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &slots))
	require.Len(t, slots.Slots, 2)
	assert.Equal(t, time.Date(2030, 1, 7, 8, 30, 0, 0, time.UTC), slots.Slots[0].Start.UTC())

	res = runCLI(base, "list", "-doctor", "1", "-status", "scheduled")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"count": 1`)
}

func TestNonJSONServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	res := runCLI(srv.URL, "get", "x")
	assert.Equal(t, exitOther, res.code)
	assert.Contains(t, res.stderr, "bad gateway")
}
