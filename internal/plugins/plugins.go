// Package plugins is the host's plugin registry: which plugins are
// installed, which are active, and how to activate them.
package plugins

import (
	"fmt"
	"strings"

	"github.com/livinlefevreloca/omakase-sync/internal/db"
)

// Plugin is an installed plugin. FilePath identifies it and has the form
// "<folder>/<main file>" for plugins that live in their own folder.
type Plugin struct {
	FilePath string
	Name     string
	Version  string
}

// Registry enumerates installed plugins and manages their activation
type Registry interface {
	List() ([]Plugin, error)
	IsActive(filePath string) (bool, error)
	Activate(filePath string) error
}

// Slug returns the first path segment of a plugin file path, or "" when
// the path has no separator (a single-file plugin).
func Slug(filePath string) string {
	i := strings.IndexByte(filePath, '/')
	if i < 0 {
		return ""
	}
	return filePath[:i]
}

// SQLRegistry implements Registry on the plugins table
type SQLRegistry struct {
	db *db.DB
}

// NewSQLRegistry creates a registry backed by database
func NewSQLRegistry(database *db.DB) *SQLRegistry {
	return &SQLRegistry{db: database}
}

// List returns all installed plugins ordered by file path
func (r *SQLRegistry) List() ([]Plugin, error) {
	rows, err := r.db.GetAllPlugins()
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}

	out := make([]Plugin, 0, len(rows))
	for _, row := range rows {
		out = append(out, Plugin{FilePath: row.FilePath, Name: row.Name, Version: row.Version})
	}
	return out, nil
}

// Get returns a single installed plugin
func (r *SQLRegistry) Get(filePath string) (*Plugin, error) {
	row, err := r.db.GetPlugin(filePath)
	if err != nil {
		return nil, err
	}
	return &Plugin{FilePath: row.FilePath, Name: row.Name, Version: row.Version}, nil
}

// IsActive reports whether the plugin is active. A plugin that is not
// installed is not active.
func (r *SQLRegistry) IsActive(filePath string) (bool, error) {
	row, err := r.db.GetPlugin(filePath)
	if db.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up plugin %q: %w", filePath, err)
	}
	return row.Active, nil
}

// Activate marks the plugin active
func (r *SQLRegistry) Activate(filePath string) error {
	if err := r.db.SetPluginActive(filePath, true); err != nil {
		return fmt.Errorf("failed to activate plugin %q: %w", filePath, err)
	}
	return nil
}

// Deactivate marks the plugin inactive
func (r *SQLRegistry) Deactivate(filePath string) error {
	if err := r.db.SetPluginActive(filePath, false); err != nil {
		return fmt.Errorf("failed to deactivate plugin %q: %w", filePath, err)
	}
	return nil
}

// Install records a plugin as installed, keeping its active state if it
// was already known.
func (r *SQLRegistry) Install(p Plugin) error {
	active, err := r.IsActive(p.FilePath)
	if err != nil {
		return err
	}
	return r.db.UpsertPlugin(&db.Plugin{
		FilePath: p.FilePath,
		Name:     p.Name,
		Version:  p.Version,
		Active:   active,
	})
}

// SetVersion records the installed version of a plugin
func (r *SQLRegistry) SetVersion(filePath, version string) error {
	return r.db.SetPluginVersion(filePath, version)
}
