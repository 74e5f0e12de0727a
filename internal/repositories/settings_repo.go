package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// SQLiteSettingsRepository stores key-value settings in the dedicated
// settings database, keyed per account and environment by a prefix chosen at
// construction. It deliberately knows nothing about entities: its file
// survives an entity wipe.
type SQLiteSettingsRepository struct {
	db     *sql.DB
	prefix string
}

// NewSQLiteSettingsRepository creates a settings repository. All keys are
// namespaced as "<prefix>:<key>"; pass something like "prod:user-123".
func NewSQLiteSettingsRepository(db *sql.DB, prefix string) *SQLiteSettingsRepository {
	return &SQLiteSettingsRepository{db: db, prefix: prefix}
}

func (r *SQLiteSettingsRepository) namespaced(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *SQLiteSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, r.namespaced(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteSettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		r.namespaced(key), value)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// GetInt64 returns 0 (not ErrNotFound) for an unset key: an absent cursor and
// a zero cursor mean the same thing to the sync engine.
func (r *SQLiteSettingsRepository) GetInt64(ctx context.Context, key string) (int64, error) {
	raw, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %q is not an integer: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteSettingsRepository) SetInt64(ctx context.Context, key string, value int64) error {
	return r.Set(ctx, key, strconv.FormatInt(value, 10))
}

func (r *SQLiteSettingsRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM settings WHERE key = ?`, r.namespaced(key))
	if err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}
