package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Option Operations
// =============================================================================

// GetOption retrieves an option value by key
func (db *DB) GetOption(key string) (string, error) {
	var value string

	err := db.QueryRow(`SELECT value FROM options WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}

	if err != nil {
		return "", err
	}

	return value, nil
}

// SetOption creates or replaces an option value
func (db *DB) SetOption(key, value string) error {
	query := `
		INSERT INTO options (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := db.Exec(query, key, value, time.Now())
	return err
}

// DeleteOption removes an option
func (db *DB) DeleteOption(key string) error {
	result, err := db.Exec(`DELETE FROM options WHERE key = ?`, key)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// GetAllOptions retrieves all options ordered by key
func (db *DB) GetAllOptions() ([]Option, error) {
	rows, err := db.Query(`SELECT key, value, updated_at FROM options ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	options := []Option{}
	for rows.Next() {
		var opt Option
		if err := rows.Scan(&opt.Key, &opt.Value, &opt.UpdatedAt); err != nil {
			return nil, err
		}
		options = append(options, opt)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return options, nil
}
