package main

import (
	"context"
	"database/sql"
	"flag"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"entitlements/internal/infra"
	"entitlements/migrations"
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = infra.MigrateUp
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "migrate").Logger()
	cfg, err := infra.LoadStorageConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to reach database")
	}

	if err := infra.Migrate(ctx, db, migrations.FS, command, logger); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Str("command", command).Msg("migration finished")
}
