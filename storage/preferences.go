package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// PreferenceStore is the key-value store of one browser profile. It
// satisfies theme.Store.
type PreferenceStore struct {
	db      *DB
	profile string
}

// Preferences returns the store scoped to profile.
func (d *DB) Preferences(profile string) *PreferenceStore {
	return &PreferenceStore{db: d, profile: profile}
}

func (p *PreferenceStore) Get(key string) (string, bool, error) {
	var value string
	err := p.db.sql.QueryRow(
		`SELECT value FROM preferences WHERE profile_id = ? AND key = ?`,
		p.profile, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading preference %s: %w", key, err)
	}
	return value, true, nil
}

func (p *PreferenceStore) Set(key, value string) error {
	_, err := p.db.sql.Exec(`
		INSERT INTO preferences (profile_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (profile_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, p.profile, key, value, formatTime(p.db.now()))
	if err != nil {
		return fmt.Errorf("writing preference %s: %w", key, err)
	}
	return nil
}
