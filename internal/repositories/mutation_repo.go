package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/prudhvinik1/tracksync/models"
)

type SQLiteMutationRepository struct {
	db *sql.DB
}

func NewSQLiteMutationRepository(db *sql.DB) *SQLiteMutationRepository {
	return &SQLiteMutationRepository{db: db}
}

// InsertTx appends a mutation to the queue inside a caller-owned transaction.
// On success m.ID and m.CreatedAt are populated.
func (r *SQLiteMutationRepository) InsertTx(ctx context.Context, tx *sql.Tx, m *models.PendingMutation) error {
	query := `INSERT INTO pending_mutations (entity_type, operation, entity_id, user_id, payload, idempotency_key)
	          VALUES (?, ?, ?, ?, ?, ?)
	          RETURNING id, created_at`

	err := tx.QueryRowContext(ctx, query,
		m.EntityType, m.Operation, m.EntityID, m.UserID, []byte(m.Payload), m.IdempotencyKey,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mutation: %w", err)
	}
	return nil
}

// ListOldest returns up to limit mutations in FIFO order (insertion order,
// which is creation-time order within an entity).
func (r *SQLiteMutationRepository) ListOldest(ctx context.Context, userID string, limit int) ([]models.PendingMutation, error) {
	query := `SELECT id, entity_type, operation, entity_id, user_id, payload, idempotency_key, attempt_count, created_at
	          FROM pending_mutations
	          WHERE user_id = ?
	          ORDER BY id ASC
	          LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutations: %w", err)
	}
	defer rows.Close()

	var mutations []models.PendingMutation
	for rows.Next() {
		var m models.PendingMutation
		var payload []byte
		err := rows.Scan(
			&m.ID,
			&m.EntityType,
			&m.Operation,
			&m.EntityID,
			&m.UserID,
			&payload,
			&m.IdempotencyKey,
			&m.AttemptCount,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Payload = payload
		mutations = append(mutations, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}
	return mutations, nil
}

func (r *SQLiteMutationRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mutation: %w", err)
	}
	return nil
}

func (r *SQLiteMutationRepository) IncrementAttempts(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(
		`UPDATE pending_mutations SET attempt_count = attempt_count + 1 WHERE id IN (%s)`,
		placeholders)

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

func (r *SQLiteMutationRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_mutations WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return n, nil
}

// Clear drops every queued mutation for the user. Destructive: the caller is
// responsible for flagging affected entities first.
func (r *SQLiteMutationRepository) Clear(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear mutations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared mutations: %w", err)
	}
	return n, nil
}
