package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-donasi/internal/app"
	"github.com/noah-isme/backend-donasi/internal/obs"
)

const usage = `usage: migrate [-steps N] up|down|version|force VERSION`

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "console"), envOrDefault("OBS_LOG_LEVEL", "info"))

	steps := flag.Int("steps", 0, "number of migrations to apply (down defaults to 1)")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}
	m, err := app.NewMigrator(databaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() { _, _ = m.Close() }()

	switch flag.Arg(0) {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		n := *steps
		if n <= 0 {
			n = 1
		}
		err = m.Steps(-n)
	case "force":
		v, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("force needs a numeric version")
		}
		err = m.Force(v)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info().Msg("no migrations applied")
			return
		}
		if verr != nil {
			logger.Fatal().Err(verr).Msg("read version")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Msg("no change")
		return
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migration failed")
	}
	logger.Info().Str("command", flag.Arg(0)).Msg("migration complete")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
