package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Plugin Registry Operations
// =============================================================================

const upsertPluginQuery = `
	INSERT INTO plugins (file_path, name, version, active, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(file_path) DO UPDATE SET
		name = excluded.name,
		version = excluded.version,
		active = excluded.active,
		updated_at = excluded.updated_at
`

// UpsertPlugin creates or replaces a plugin record
func (db *DB) UpsertPlugin(p *Plugin) error {
	p.UpdatedAt = time.Now()
	_, err := db.Exec(upsertPluginQuery, p.FilePath, p.Name, p.Version, p.Active, p.UpdatedAt)
	return err
}

// UpsertPlugin creates or replaces a plugin record within a transaction
func (tx *Tx) UpsertPlugin(p *Plugin) error {
	p.UpdatedAt = time.Now()
	_, err := tx.Exec(upsertPluginQuery, p.FilePath, p.Name, p.Version, p.Active, p.UpdatedAt)
	return err
}

// ReplacePlugins replaces the whole plugin inventory atomically
func (db *DB) ReplacePlugins(plugins []Plugin) error {
	return db.WithTransaction(func(tx *Tx) error {
		if _, err := tx.Exec(`DELETE FROM plugins`); err != nil {
			return err
		}
		for i := range plugins {
			if err := tx.UpsertPlugin(&plugins[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPlugin retrieves a plugin by file path
func (db *DB) GetPlugin(filePath string) (*Plugin, error) {
	p := &Plugin{}

	query := `
		SELECT file_path, name, version, active, updated_at
		FROM plugins
		WHERE file_path = ?
	`

	err := db.QueryRow(query, filePath).Scan(&p.FilePath, &p.Name, &p.Version, &p.Active, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return p, nil
}

// GetAllPlugins retrieves all plugins ordered by file path
func (db *DB) GetAllPlugins() ([]Plugin, error) {
	query := `
		SELECT file_path, name, version, active, updated_at
		FROM plugins
		ORDER BY file_path
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plugins := []Plugin{}
	for rows.Next() {
		var p Plugin
		if err := rows.Scan(&p.FilePath, &p.Name, &p.Version, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return plugins, nil
}

// SetPluginActive updates the active flag of a plugin
func (db *DB) SetPluginActive(filePath string, active bool) error {
	result, err := db.Exec(`UPDATE plugins SET active = ?, updated_at = ? WHERE file_path = ?`,
		active, time.Now(), filePath)
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

// SetPluginVersion records a new installed version for a plugin
func (db *DB) SetPluginVersion(filePath, version string) error {
	result, err := db.Exec(`UPDATE plugins SET version = ?, updated_at = ? WHERE file_path = ?`,
		version, time.Now(), filePath)
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
