package tracksync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/tracksync/internal/repositories"
	"github.com/prudhvinik1/tracksync/models"
)

// MutationQueue is the durable, ordered record of local write intents
// awaiting transmission. Enqueue is the one operation allowed to run
// concurrently with an in-flight sync cycle: it only touches local storage,
// never the network.
type MutationQueue struct {
	db        *sql.DB
	entities  repositories.EntityRepository
	mutations repositories.MutationRepository
	userID    string
	logger    zerolog.Logger
}

func NewMutationQueue(
	db *sql.DB,
	entities repositories.EntityRepository,
	mutations repositories.MutationRepository,
	userID string,
	logger zerolog.Logger,
) *MutationQueue {
	return &MutationQueue{
		db:        db,
		entities:  entities,
		mutations: mutations,
		userID:    userID,
		logger:    logger,
	}
}

// Enqueue applies the entity write and records the mutation in one local
// transaction, assigns a fresh idempotency key, and returns it. It never
// blocks on the network.
//
// Because both writes commit together, a crash can never leave an entity
// change without its queued mutation. The serialized write handle (one
// connection, busy timeout) keeps concurrent producers from losing updates.
func (q *MutationQueue) Enqueue(ctx context.Context, entityType models.EntityType, op models.Operation, entityID string, payload json.RawMessage) (string, error) {
	if !entityType.Valid() {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", op)
	}
	if entityID == "" {
		return "", fmt.Errorf("entity ID is required")
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	switch op {
	case models.OperationCreate, models.OperationUpdate:
		entity := &models.Entity{
			ID:         entityID,
			UserID:     q.userID,
			EntityType: entityType,
			Payload:    payload,
			SyncStatus: models.SyncStatusPending,
		}
		if err := q.entities.UpsertTx(ctx, tx, entity); err != nil {
			return "", err
		}
	case models.OperationDelete:
		if err := q.entities.DeleteTx(ctx, tx, entityID); err != nil {
			return "", err
		}
	}

	mutation := &models.PendingMutation{
		EntityType:     entityType,
		Operation:      op,
		EntityID:       entityID,
		UserID:         q.userID,
		Payload:        payload,
		IdempotencyKey: newIdempotencyKey(),
	}
	if err := q.mutations.InsertTx(ctx, tx, mutation); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit enqueue transaction: %w", err)
	}

	q.logger.Debug().
		Str("entity_type", string(entityType)).
		Str("operation", string(op)).
		Str("entity_id", entityID).
		Msg("mutation enqueued")

	return mutation.IdempotencyKey, nil
}

// DequeueBatch returns up to max queued mutations in FIFO order without
// removing them; removal happens via Remove once the server has durably
// accepted a mutation. max <= 0 drains everything.
func (q *MutationQueue) DequeueBatch(ctx context.Context, max int) ([]models.PendingMutation, error) {
	if max <= 0 {
		max = -1 // no limit
	}
	return q.mutations.ListOldest(ctx, q.userID, max)
}

// Remove deletes a mutation whose server acceptance is confirmed.
func (q *MutationQueue) Remove(ctx context.Context, mutationID int64) error {
	return q.mutations.Delete(ctx, mutationID)
}

// Count returns how many mutations are queued.
func (q *MutationQueue) Count(ctx context.Context) (int, error) {
	return q.mutations.Count(ctx, q.userID)
}

// Clear is the destructive escape hatch for a stuck queue. It abandons every
// queued mutation and, when markEntitiesFailed is set, flags the affected
// entities as sync-failed so the UI can surface that unsynced changes were
// dropped. Returns how many mutations were discarded.
func (q *MutationQueue) Clear(ctx context.Context, markEntitiesFailed bool) (int64, error) {
	if markEntitiesFailed {
		marked, err := q.entities.MarkAllPendingFailed(ctx, q.userID)
		if err != nil {
			return 0, err
		}
		q.logger.Warn().Int64("entities", marked).Msg("flagged entities as sync-failed")
	}

	cleared, err := q.mutations.Clear(ctx, q.userID)
	if err != nil {
		return 0, err
	}

	q.logger.Warn().Int64("mutations", cleared).Msg("pending mutations cleared")
	return cleared, nil
}
