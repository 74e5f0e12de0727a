package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/prudhvinik1/tracksync/models"
)

type SQLiteEntityRepository struct {
	db *sql.DB
}

func NewSQLiteEntityRepository(db *sql.DB) *SQLiteEntityRepository {
	return &SQLiteEntityRepository{db: db}
}

const entityUpsertQuery = `INSERT INTO entities (id, user_id, entity_type, payload, sync_status)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	              payload = excluded.payload,
	              sync_status = excluded.sync_status,
	              updated_at = CURRENT_TIMESTAMP`

func (r *SQLiteEntityRepository) Upsert(ctx context.Context, entity *models.Entity) error {
	if entity.SyncStatus == "" {
		entity.SyncStatus = models.SyncStatusPending
	}
	_, err := r.db.ExecContext(ctx, entityUpsertQuery,
		entity.ID, entity.UserID, entity.EntityType, []byte(entity.Payload), entity.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// UpsertTx is Upsert inside a caller-owned transaction. The sync engine uses
// it so an entity write and its queued mutation commit atomically.
func (r *SQLiteEntityRepository) UpsertTx(ctx context.Context, tx *sql.Tx, entity *models.Entity) error {
	if entity.SyncStatus == "" {
		entity.SyncStatus = models.SyncStatusPending
	}
	_, err := tx.ExecContext(ctx, entityUpsertQuery,
		entity.ID, entity.UserID, entity.EntityType, []byte(entity.Payload), entity.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (r *SQLiteEntityRepository) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	query := `SELECT id, user_id, entity_type, payload, sync_status, created_at, updated_at
	          FROM entities WHERE id = ?`

	var entity models.Entity
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&entity.ID,
		&entity.UserID,
		&entity.EntityType,
		&payload,
		&entity.SyncStatus,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity by ID: %w", err)
	}
	entity.Payload = payload
	return &entity, nil
}

func (r *SQLiteEntityRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

func (r *SQLiteEntityRepository) DeleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every entity owned by the user across all types.
// Bootstrap relies on this being a full wipe, not a selective one.
func (r *SQLiteEntityRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entities for user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted entities: %w", err)
	}
	return n, nil
}

func (r *SQLiteEntityRepository) CountByType(ctx context.Context, userID string) (map[models.EntityType]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_type, COUNT(*) FROM entities WHERE user_id = ? GROUP BY entity_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EntityType]int)
	for rows.Next() {
		var t models.EntityType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan entity count: %w", err)
		}
		counts[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity counts: %w", err)
	}
	return counts, nil
}

func (r *SQLiteEntityRepository) MarkSyncStatus(ctx context.Context, ids []string, status models.SyncStatusValue) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(
		`UPDATE entities SET sync_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (%s)`,
		placeholders)

	args := make([]any, 0, len(ids)+1)
	args = append(args, status)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark sync status: %w", err)
	}
	return nil
}

// MarkAllPendingFailed flags every still-pending entity as sync-failed. Used
// by the destructive queue clear so the UI can surface abandoned changes.
func (r *SQLiteEntityRepository) MarkAllPendingFailed(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE entities SET sync_status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND sync_status = ?`,
		models.SyncStatusFailed, userID, models.SyncStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to mark pending entities failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count marked entities: %w", err)
	}
	return n, nil
}
