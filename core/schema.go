package core

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// EnsureSchema verifies the FreeRADIUS tables and the portal migrations are present.
// Any missing relation is reported as ErrSchemaMissing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	const q = `
SELECT to_regclass('radcheck') IS NOT NULL,
       to_regclass('radreply') IS NOT NULL,
       to_regclass('user_meta') IS NOT NULL,
       to_regclass('audit_log') IS NOT NULL,
       to_regclass('radcheck_username_attribute_key') IS NOT NULL
`
	var radcheck, radreply, userMeta, auditLog, uniqueIdx bool
	if err := db.QueryRow(ctx, q).Scan(&radcheck, &radreply, &userMeta, &auditLog, &uniqueIdx); err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	if !radcheck || !radreply {
		return fmt.Errorf("%w: missing radcheck/radreply tables, load the FreeRADIUS SQL schema", ErrSchemaMissing)
	}
	var missing []string
	if !userMeta {
		missing = append(missing, "user_meta")
	}
	if !auditLog {
		missing = append(missing, "audit_log")
	}
	if !uniqueIdx {
		missing = append(missing, "radcheck_username_attribute_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s, run `portalctl migrate up`", ErrSchemaMissing, strings.Join(missing, ", "))
	}
	return nil
}

// NewMigrator returns a golang-migrate instance over the embedded migrations.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	target, err := migrateURL(databaseURL)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending migrations. Being up to date is not an error.
func MigrateUp(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown reverts the given number of migrations.
func MigrateDown(databaseURL string, steps int) error {
	if steps <= 0 {
		return errors.New("steps must be positive")
	}
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres:// DSN to the pgx5:// scheme golang-migrate registers for pgx.
func migrateURL(databaseURL string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix), nil
		}
	}
	if strings.HasPrefix(databaseURL, "pgx5://") {
		return databaseURL, nil
	}
	return "", errors.New("migrations need a postgres:// database url")
}
