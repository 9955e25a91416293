package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface the ledger repository depends on.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// ErrSQLMarker is returned when a statement lacks its leading "--sql <uuid>" line.
var ErrSQLMarker = errors.New("sql marker missing or invalid")

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// SQLRunner strips and logs statement markers before handing queries to pgx.
// pgxpool.Pool and pgx.Tx both satisfy the wrapped executor.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
}

func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql", marker).Msg("sql exec failed")
		return tag, err
	}
	r.logger.Debug().Str("sql", marker).Int64("rows", tag.RowsAffected()).Dur("took", time.Since(start)).Msg("sql exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{
		row:    r.db.QueryRow(ctx, stmt, args...),
		logger: r.logger,
		marker: marker,
		start:  time.Now(),
	}
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
	start  time.Time
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	switch {
	case err == nil:
		l.logger.Debug().Str("sql", l.marker).Dur("took", time.Since(l.start)).Msg("sql query_row")
	case errors.Is(err, pgx.ErrNoRows):
		l.logger.Debug().Str("sql", l.marker).Msg("sql query_row no rows")
	default:
		l.logger.Error().Err(err).Str("sql", l.marker).Msg("sql scan failed")
	}
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", fmt.Errorf("%w: empty query", ErrSQLMarker)
	}
	markerLine, rest, _ := strings.Cut(trimmed, "\n")
	markerLine = strings.TrimSpace(markerLine)
	if !markerRegexp.MatchString(markerLine) {
		return "", "", ErrSQLMarker
	}
	stmt := strings.TrimSpace(rest)
	if stmt == "" {
		return "", "", fmt.Errorf("%w: statement body missing", ErrSQLMarker)
	}
	return strings.TrimPrefix(markerLine, "--sql "), stmt, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
