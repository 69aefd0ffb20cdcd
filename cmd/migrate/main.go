package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const usage = `usage: migrate [up | down <n> | force <version> | version]`

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	mg, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("create migrator")
	}
	defer func() {
		if err := mg.Close(); err != nil {
			log.Error().Err(err).Msg("close migrator")
		}
	}()

	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		var n int
		n, err = intArg(2)
		if err == nil {
			err = mg.Down(n)
		}
	case "force":
		var v int
		v, err = intArg(2)
		if err == nil {
			err = mg.Force(v)
		}
	case "version":
		v, dirty, verr := mg.Version()
		if verr == nil {
			fmt.Printf("version=%d dirty=%t\n", v, dirty)
		}
		err = verr
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	log.Info().Str("command", cmd).Msg("migrations complete")
}

func intArg(i int) (int, error) {
	if len(os.Args) <= i {
		return 0, fmt.Errorf("missing argument\n%s", usage)
	}
	n, err := strconv.Atoi(os.Args[i])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", os.Args[i])
	}
	return n, nil
}
