package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// Migration commands understood by Migrate.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
)

// Migrate runs a goose command against db using the embedded migrations in fsys.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS, command string, logger zerolog.Logger) error {
	goose.SetBaseFS(fsys)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	var err error
	switch command {
	case MigrateUp:
		err = goose.UpContext(ctx, db, ".")
	case MigrateDown:
		err = goose.DownContext(ctx, db, ".")
	case MigrateStatus:
		err = goose.StatusContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	if err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

type gooseLogger struct {
	log zerolog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error().Msgf(format, v...)
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info().Msgf(format, v...)
}
