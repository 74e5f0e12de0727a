package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/prudhvinik1/tracksync/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// EntityRepository is the sync engine's view of the local entity store: typed
// upsert/delete by canonical ID, predicate-style fetches, and the nuclear
// delete-all used by bootstrap.
type EntityRepository interface {
	Upsert(ctx context.Context, entity *models.Entity) error
	UpsertTx(ctx context.Context, tx *sql.Tx, entity *models.Entity) error
	GetByID(ctx context.Context, id string) (*models.Entity, error)
	Delete(ctx context.Context, id string) error
	DeleteTx(ctx context.Context, tx *sql.Tx, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	CountByType(ctx context.Context, userID string) (map[models.EntityType]int, error)
	MarkSyncStatus(ctx context.Context, ids []string, status models.SyncStatusValue) error
	MarkAllPendingFailed(ctx context.Context, userID string) (int64, error)
}

// MutationRepository persists the FIFO queue of pending mutations.
type MutationRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, m *models.PendingMutation) error
	ListOldest(ctx context.Context, userID string, limit int) ([]models.PendingMutation, error)
	Delete(ctx context.Context, id int64) error
	IncrementAttempts(ctx context.Context, ids []int64) error
	Count(ctx context.Context, userID string) (int, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

// SettingsRepository is durable key-value storage for cursors and flags,
// independent of the entity store's lifecycle.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetInt64(ctx context.Context, key string) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
	Delete(ctx context.Context, key string) error
}
