// Package database owns the Postgres connection pool and schema
// migrations, grounded on the session-store migrator pattern from the
// retrieved corpus (embed.FS + golang-migrate's iofs source).
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/complyaudit/audit-core/pkg/apierr"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns sane pool sizing for a single processor instance.
func DefaultOptions(dsn string) Options {
	return Options{
		DSN:             dsn,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects to Postgres and verifies reachability with a ping.
func Open(ctx context.Context, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", opts.DSN)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeConfigError, "failed to open database connection", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "database unreachable", err)
	}
	return db, nil
}

// Migrator applies embedded schema migrations against the configured DSN.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator constructs a Migrator over the embedded migrations/ directory.
func NewMigrator(dsn string) (*Migrator, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeConfigError, "failed to load embedded migrations", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeConfigError, "failed to construct migrator", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to apply migrations", err)
	}
	return nil
}

// Version reports the currently applied migration version.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading migration version: %w", err)
	}
	return v, dirty, nil
}

// Close releases the migrator's source and database handles.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
