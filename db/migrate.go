// Package db embeds the SQL migrations and exposes a single Migrate
// entrypoint the composition root calls at startup, ahead of any
// audit/vector repository use.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration in migrations/ to db.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("db: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("db: apply migrations: %w", err)
	}
	return nil
}

// Status reports the current migration version without applying anything.
func Status(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	return goose.Status(db, "migrations")
}
