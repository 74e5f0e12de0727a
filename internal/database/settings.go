package database

import (
	"context"
	"database/sql"
	"fmt"
)

const settingsSchema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// OpenSettings opens the durable key-value settings store.
//
// Settings (sync cursor, flags, last-sync timestamps) live in their own file,
// separate from the entity store, so the cursor survives an entity wipe and
// the entity store survives a settings reset. Same single-handle discipline
// as Open.
func OpenSettings(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d",
		path, BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening settings store: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging settings store: %w", err)
	}

	if _, err := db.ExecContext(ctx, settingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing settings schema: %w", err)
	}

	return db, nil
}
