package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

type RouterConfig struct {
	Service  *appointment.Service
	Calendar CalendarView
	Registry registry.Registry
	Events   EventLister // optional
	Postgres Pinger      // optional
	Redis    *redis.Client
	Gatherer prometheus.Gatherer // defaults to the global registry
	Logger   zerolog.Logger
	Location *time.Location
	Now      func() time.Time
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	h := &Handlers{
		svc:      cfg.Service,
		calendar: cfg.Calendar,
		registry: cfg.Registry,
		events:   cfg.Events,
		loc:      cfg.Location,
		now:      cfg.Now,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Get("/{id}/events", h.appointmentEvents)
		r.Post("/{id}/cancel", h.transition(cfg.Service.Cancel))
		r.Post("/{id}/confirm", h.transition(cfg.Service.Confirm))
		r.Post("/{id}/complete", h.transition(cfg.Service.Complete))
		r.Post("/{id}/no-show", h.transition(cfg.Service.MarkNoShow))
		r.Post("/{id}/reschedule", h.rescheduleAppointment)
	})

	r.Route("/doctors", func(r chi.Router) {
		r.Get("/", h.listDoctors)
		r.Get("/{id}", h.getDoctor)
		r.Get("/{id}/slots", h.doctorSlots)
		r.Get("/{id}/availability", h.doctorAvailability)
		r.Post("/{id}/exceptions", h.addException)
	})

	r.Get("/patients", h.listPatients)
	r.Get("/patients/{id}", h.getPatient)

	r.Get("/reports/summary", h.reportSummary)
	r.Get("/reports/dashboard", h.reportDashboard)

	return r
}
