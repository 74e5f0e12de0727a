package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// BusyTimeout bounds how long a write waits on a lock held elsewhere
	// before failing instead of deadlocking.
	BusyTimeout = 5 * time.Second

	ConnMaxLifetime = 10 * time.Minute
)

// schema holds the entity store and the mutation queue. They share one file
// on purpose: enqueueing a mutation and writing the entity it describes must
// commit in the same transaction.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	payload     BLOB,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entities_user_type ON entities(user_id, entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_sync_status ON entities(user_id, sync_status);

CREATE TABLE IF NOT EXISTS pending_mutations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type     TEXT NOT NULL,
	operation       TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	payload         BLOB,
	idempotency_key TEXT NOT NULL UNIQUE,
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_pending_mutations_user ON pending_mutations(user_id, id);
`

// Open opens the entity+queue store and initializes its schema.
//
// The returned handle is the single write-capable handle for the process:
// MaxOpenConns is pinned to 1 so every sub-operation of a sync cycle reuses
// the same underlying connection instead of racing independent handles
// against the same file (file-lock contention is exactly the failure mode
// this guards against).
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging store: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return db, nil
}
