// Package options is the persistent key/value option store the agent
// reads its settings from.
package options

import (
	"github.com/livinlefevreloca/omakase-sync/internal/db"
)

// Keys of the options the agent owns
const (
	KeySiteID = "omakase_site_id"
	KeyAPIKey = "omakase_api_key"

	// KeyUpdateOffer holds the pending update offer as JSON, empty when
	// the plugin is up to date
	KeyUpdateOffer = "omakase_sync_update_offer"
)

// Store reads and writes options. Get returns def when the key is unset.
type Store interface {
	Get(key, def string) (string, error)
	Set(key, value string) error
}

// SQLStore implements Store on the options table
type SQLStore struct {
	db *db.DB
}

// NewSQLStore creates a store backed by database
func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

// Get returns the stored value for key, or def if it is unset
func (s *SQLStore) Get(key, def string) (string, error) {
	value, err := s.db.GetOption(key)
	if db.IsNotFound(err) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores value under key
func (s *SQLStore) Set(key, value string) error {
	return s.db.SetOption(key, value)
}

// Delete removes key. Deleting an unset key is not an error.
func (s *SQLStore) Delete(key string) error {
	err := s.db.DeleteOption(key)
	if db.IsNotFound(err) {
		return nil
	}
	return err
}
