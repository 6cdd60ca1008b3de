// Package migrations applies the embedded chat schema with golang-migrate.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var files embed.FS

// DefaultSchema is the schema production tables live in.
const DefaultSchema = "lostfound"

var schemaRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Up creates schema if needed and applies all pending migrations inside it.
func Up(ctx context.Context, pool *pgxpool.Pool, databaseURL, schema string, log *slog.Logger) error {
	m, err := open(ctx, pool, databaseURL, schema)
	if err != nil {
		return err
	}
	defer closeMigrate(m, log)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	if log != nil {
		v, dirty, _ := m.Version()
		log.Info("db.migrate.up", "schema", schema, "version", v, "dirty", dirty)
	}
	return nil
}

// Down rolls back steps migrations (all when steps <= 0).
func Down(ctx context.Context, pool *pgxpool.Pool, databaseURL, schema string, steps int, log *slog.Logger) error {
	m, err := open(ctx, pool, databaseURL, schema)
	if err != nil {
		return err
	}
	defer closeMigrate(m, log)

	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func open(ctx context.Context, pool *pgxpool.Pool, databaseURL, schema string) (*migrate.Migrate, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if !schemaRE.MatchString(schema) {
		return nil, fmt.Errorf("migrations: invalid schema %q", schema)
	}
	if pool != nil {
		if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	dsn, err := migrateURL(databaseURL, schema)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate init: %w", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate, log *slog.Logger) {
	srcErr, dbErr := m.Close()
	if log == nil {
		return
	}
	if srcErr != nil {
		log.Warn("db.migrate.close_source.fail", "err", srcErr)
	}
	if dbErr != nil {
		log.Warn("db.migrate.close_db.fail", "err", dbErr)
	}
}

// migrateURL rewrites a postgres:// URL for the pgx5 migrate driver and pins search_path to schema.
func migrateURL(databaseURL, schema string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(databaseURL))
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", fmt.Errorf("migrations: unsupported database url scheme %q", u.Scheme)
	}
	u.Scheme = "pgx5"
	q := u.Query()
	q.Set("search_path", schema)
	q.Set("x-migrations-table", "schema_migrations")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
