package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"
)

// SettingsStore implements oasis.SettingsStore backed by SQLite, sharing the
// connection handed to Store/MessageStore. It is the DB override layer of
// the settings deep-merge; package settings owns the merge itself.
type SettingsStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ oasis.SettingsStore = (*SettingsStore)(nil)

// NewSettingsStore creates a SettingsStore using an existing *sql.DB.
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db, logger: nopLogger}
}

// Init creates the settings_overrides table.
func (s *SettingsStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS settings_overrides (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: settings_overrides init: %w", err)
	}
	return nil
}

// GetSettingsOverrides returns every DB-layer override, keyed by dotted path.
func (s *SettingsStore) GetSettingsOverrides(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings_overrides`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list settings overrides: %w", err)
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("sqlite: scan settings override: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// SetSettingOverride upserts a single DB-layer override.
func (s *SettingsStore) SetSettingOverride(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings_overrides (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), oasis.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set settings override: %w", err)
	}
	return nil
}

// DeleteSettingOverride removes one DB-layer override, reverting that key to
// its env/default value.
func (s *SettingsStore) DeleteSettingOverride(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings_overrides WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlite: delete settings override: %w", err)
	}
	return nil
}
