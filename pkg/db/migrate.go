package db

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every up migration found in dir. Each store keeps its
// versions in its own table, so several stores can be migrated into one
// database.
func Migrate(databaseURL, dir, versionTable string) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations dir %s: %w", dir, err)
	}

	dbURL, err := withMigrationsTable(databaseURL, versionTable)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+absPath, dbURL)
	if err != nil {
		return fmt.Errorf("failed to init migrations from %s: %w", absPath, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations from %s: %w", absPath, err)
	}

	return nil
}

func withMigrationsTable(databaseURL, table string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}

	q := u.Query()
	q.Set("x-migrations-table", table)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
