package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// EnsurePgvector makes the vector extension available for the videos.embedding column.
// A role without CREATE privilege is fine as long as the extension is already installed.
func EnsurePgvector(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("EnsurePgvector: %w", err)
	}
	defer db.Close()

	var installed bool
	if err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&installed); err != nil {
		return fmt.Errorf("EnsurePgvector: %w", err)
	}
	if installed {
		return nil
	}

	_, err = db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`)
	var pqErr *pq.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pqErr) && pqErr.Code == "42501": // insufficient_privilege
		return fmt.Errorf("EnsurePgvector: extension missing and this role cannot create it (run CREATE EXTENSION vector as a superuser): %w", err)
	}
	return fmt.Errorf("EnsurePgvector: %w", err)
}

// RunMigrations applies the embedded SQL migrations against the DSN.
func RunMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("iofs.New: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate.Up: %w", err)
	}
	return nil
}
