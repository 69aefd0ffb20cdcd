package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

const batchSize = 500

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	ctx = context.Background()

	// SEED_FILE loads a fixed clinic (e.g. configs/clinic.yaml) before the generated data.
	if path := os.Getenv("SEED_FILE"); path != "" {
		if err := seedFile(ctx, pool, path, log); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("seed clinic file")
		}
	}

	faker := gofakeit.New(0)
	if err := seedDoctors(ctx, pool, faker, getInt("SEED_DOCTORS", 20), log); err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, faker, getInt("SEED_PATIENTS", 2000), log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedFile(ctx context.Context, pool *pgxpool.Pool, path string, log zerolog.Logger) error {
	dir, err := registry.LoadFile(path)
	if err != nil {
		return err
	}
	doctors, err := dir.ListDoctors(ctx)
	if err != nil {
		return err
	}
	patients, err := dir.ListPatients(ctx)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		repo := registry.NewPgRepository(tx)
		for _, d := range doctors {
			if err := repo.InsertDoctor(ctx, d); err != nil {
				return err
			}
		}
		for _, p := range patients {
			if err := repo.InsertPatient(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Int("doctors", len(doctors)).Int("patients", len(patients)).Msg("clinic file seeded")
	return nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, f *gofakeit.Faker, count int, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding doctors")

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		repo := registry.NewPgRepository(tx)
		for i := 0; i < count; i++ {
			if err := repo.InsertDoctor(ctx, registry.FakeDoctor(f, uuid.NewString())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, f *gofakeit.Faker, count int, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding patients")

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			repo := registry.NewPgRepository(tx)
			for i := offset; i < end; i++ {
				if err := repo.InsertPatient(ctx, registry.FakePatient(f, uuid.NewString())); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info().Int("seeded", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
