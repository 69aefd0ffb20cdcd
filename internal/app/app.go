// Package app assembles the scheduling service from configuration. Both the
// API server and the no-show worker boot through it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

// EventLog is what both event log backends provide.
type EventLog interface {
	appointment.EventRecorder
	ListEvents(ctx context.Context, appointmentID string) ([]appointment.EventLog, error)
}

type App struct {
	Service  *appointment.Service
	Calendar *availability.Calendar
	Registry registry.Registry
	Events   EventLog
	Pool     *pgxpool.Pool // nil with the memory store
	Redis    *redis.Client // nil without REDIS_ADDR

	log zerolog.Logger
}

// Build connects whatever backends cfg selects. Callers must Close the result.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{log: log}

	var store appointment.Store
	switch cfg.Store {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN,
			db.WithMaxConns(int32(cfg.PostgresMaxConns)),
			db.WithTimeZone(cfg.Location),
		)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.Pool = pool
		store = appointment.NewPgStore(pool)
		a.Events = appointment.NewPgEventLog(pool)
		a.Registry = registry.NewPgRepository(pool)
		log.Info().Msg("connected to Postgres")
	default:
		dir, err := registry.LoadFile(cfg.ClinicDataFile)
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
		store = appointment.NewMemoryStore()
		a.Events = appointment.NewMemoryEventLog()
		a.Registry = dir
		log.Info().Str("file", cfg.ClinicDataFile).Msg("loaded clinic registry")
	}

	var locker appointment.Locker = appointment.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.Redis = rdb
		locker = redisclient.NewDoctorLocker(rdb, cfg.LockTTL, cfg.LockWait)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	a.Calendar = availability.NewCalendar(
		availability.WithSource(a.Registry),
		availability.WithLocation(cfg.Location),
		availability.WithHorizonDays(cfg.SearchHorizonDays),
		availability.WithCacheTTL(cfg.ScheduleCacheTTL),
	)

	ledger := appointment.NewLedger(store, appointment.WithLocker(locker))
	a.Service = appointment.NewService(ledger, a.Calendar, log,
		appointment.WithPatientLookup(a.Registry),
		appointment.WithEventRecorder(a.Events),
		appointment.WithMetrics(metrics.NewSchedulingMetrics(reg)),
	)
	return a, nil
}

// Postgres returns the pool as a readiness pinger, or nil.
func (a *App) Postgres() interface{ Ping(context.Context) error } {
	if a.Pool == nil {
		return nil
	}
	return a.Pool
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Error().Err(err).Msg("closing redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
