package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-donasi/internal/app"
	"github.com/noah-isme/backend-donasi/internal/auth"
	"github.com/noah-isme/backend-donasi/internal/obs"
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info")

	name := flag.String("name", "", "admin display name")
	email := flag.String("email", "", "admin email address")
	flag.Parse()

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		logger.Fatal().Msg("ADMIN_PASSWORD must be set")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Fatal().Msg("JWT_SECRET is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := app.NewPool(ctx, dbURL, "donasi-create-admin")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	svc, err := auth.NewService(auth.Config{Store: auth.NewStore(pool), Secret: secret})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}

	admin, err := svc.CreateAdmin(ctx, *name, *email, password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		logger.Fatal().Str("email", *email).Msg("admin already exists")
	case err != nil:
		logger.Fatal().Err(err).Msg("create admin")
	}
	logger.Info().Str("id", admin.ID).Str("email", admin.Email).Msg("admin created")
}
