package migrator

import (
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
)

// RunMigrations applies all pending migrations found in dir within fsys.
func RunMigrations(db *sql.DB, fsys fs.FS, dir string) error {
	if err := createSchemaTable(db); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedSet := make(map[int]bool, len(applied))
	maxApplied := 0
	for _, v := range applied {
		appliedSet[v] = true
		if v > maxApplied {
			maxApplied = v
		}
	}

	for _, migration := range migrations {
		if appliedSet[migration.Version] {
			continue
		}

		// Can't go backwards
		if migration.Version < maxApplied {
			return fmt.Errorf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)",
				migration.Version, maxApplied)
		}

		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		maxApplied = migration.Version
	}

	return nil
}

// GetCurrentVersion returns the highest applied migration version.
// Returns 0 if no migrations have been applied.
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}

	return version, nil
}

// GetAppliedMigrations returns a slice of all applied migration versions, sorted.
func GetAppliedMigrations(db *sql.DB) ([]int, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		if isMissingTable(err) {
			return []int{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	versions := []int{}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return versions, nil
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

// createSchemaTable creates the schema_migrations table if it doesn't exist.
func createSchemaTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := db.Exec(query)
	return err
}

// applyMigration executes a single migration and records it in schema_migrations.
func applyMigration(db *sql.DB, migration Migration) error {
	const recordQuery = "INSERT INTO schema_migrations (version) VALUES (?)"

	if migration.NoTransaction {
		if _, err := db.Exec(migration.UpSQL); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
		if _, err := db.Exec(recordQuery, migration.Version); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(migration.UpSQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute SQL: %w", err)
	}

	if _, err := tx.Exec(recordQuery, migration.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
