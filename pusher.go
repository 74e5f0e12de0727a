package tracksync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/tracksync/internal/api"
	"github.com/prudhvinik1/tracksync/internal/repositories"
	"github.com/prudhvinik1/tracksync/models"
)

// ProgressFunc receives upload progress after every network attempt so a
// multi-chunk push stays observable while it runs.
type ProgressFunc func(pushed, total int)

// BatchPusher drains the mutation queue toward the server. Entity creates
// that models.Batchable allows travel in fixed-size chunks through the bulk
// endpoint; everything else goes one-at-a-time through the individual
// idempotent endpoint.
type BatchPusher struct {
	client    *api.Client
	entities  repositories.EntityRepository
	mutations repositories.MutationRepository
	breaker   *CircuitBreaker
	chunkSize int
	logger    zerolog.Logger
}

func NewBatchPusher(
	client *api.Client,
	entities repositories.EntityRepository,
	mutations repositories.MutationRepository,
	breaker *CircuitBreaker,
	chunkSize int,
	logger zerolog.Logger,
) *BatchPusher {
	if chunkSize <= 0 || chunkSize > api.MaxBatchSize {
		chunkSize = api.MaxBatchSize
	}
	return &BatchPusher{
		client:    client,
		entities:  entities,
		mutations: mutations,
		breaker:   breaker,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Push transmits the drained mutations. Mutations the server durably accepts
// are removed from the queue; everything else stays queued for the next
// cycle. The returned error is non-nil only for cycle-terminal conditions
// (rate limit, auth): ordinary per-mutation failures are reported in the
// result and retried later.
func (p *BatchPusher) Push(ctx context.Context, muts []models.PendingMutation, progress ProgressFunc) (*models.PushResult, error) {
	result := &models.PushResult{Failed: make(map[string]string)}
	if len(muts) == 0 {
		return result, nil
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	// Bulk-path creates flush first so an individual update never reaches
	// the server ahead of the create it depends on.
	var bulk, individual []models.PendingMutation
	for _, m := range muts {
		if models.Batchable(m.EntityType, m.Operation) {
			bulk = append(bulk, m)
		} else {
			individual = append(individual, m)
		}
	}

	total := len(muts)
	pushed := 0

	for start := 0; start < len(bulk); start += p.chunkSize {
		end := min(start+p.chunkSize, len(bulk))
		chunk := bulk[start:end]

		if p.breaker.IsTripped() {
			return result, nil
		}

		accepted, err := p.pushChunk(ctx, chunk, result)
		if err != nil {
			return result, err
		}
		pushed += accepted
		progress(pushed, total)
	}

	for _, m := range individual {
		if p.breaker.IsTripped() {
			return result, nil
		}

		ok, err := p.pushIndividual(ctx, m, result)
		if err != nil {
			return result, err
		}
		if ok {
			pushed++
		}
		progress(pushed, total)
	}

	return result, nil
}

// pushChunk sends one bulk request. One chunk is one attempt: its failure
// records exactly one circuit-breaker failure regardless of how many
// mutations it carried.
func (p *BatchPusher) pushChunk(ctx context.Context, chunk []models.PendingMutation, result *models.PushResult) (int, error) {
	items := make([]models.BatchItem, len(chunk))
	ids := make([]int64, len(chunk))
	for i, m := range chunk {
		items[i] = models.BatchItem{ID: m.EntityID, EntityType: m.EntityType, Payload: m.Payload}
		ids[i] = m.ID
	}

	resp, err := p.client.CreateBatch(ctx, items)
	result.Attempts++
	if err != nil {
		p.breaker.RecordFailure()
		if ierr := p.mutations.IncrementAttempts(ctx, ids); ierr != nil {
			p.logger.Warn().Err(ierr).Msg("failed to record chunk attempt")
		}
		for _, m := range chunk {
			result.Failed[m.EntityID] = err.Error()
		}
		if api.IsRateLimited(err) || api.IsAuth(err) {
			return 0, err
		}
		p.logger.Warn().Err(err).Int("chunk", len(chunk)).Msg("batch chunk failed, left queued")
		return 0, nil
	}
	p.breaker.RecordSuccess()

	statuses := make(map[string]models.BatchItemStatus, len(resp.Results))
	for _, s := range resp.Results {
		statuses[s.EntityID] = s
	}

	var acceptedIDs []string
	accepted := 0
	for _, m := range chunk {
		status, ok := statuses[m.EntityID]
		if ok && !status.Accepted() {
			result.Failed[m.EntityID] = status.Message
			continue
		}
		// The server durably holds this entity. Dequeue now, before any
		// local bookkeeping: a bookkeeping failure must never strand a
		// mutation the server already accepted.
		if err := p.mutations.Delete(ctx, m.ID); err != nil {
			p.logger.Error().Err(err).Int64("mutation_id", m.ID).Msg("failed to dequeue accepted mutation")
			result.Failed[m.EntityID] = err.Error()
			continue
		}
		acceptedIDs = append(acceptedIDs, m.EntityID)
		result.Succeeded = append(result.Succeeded, m.EntityID)
		accepted++
	}

	if err := p.entities.MarkSyncStatus(ctx, acceptedIDs, models.SyncStatusSynced); err != nil {
		// Bookkeeping only; the mutations are already dequeued.
		p.logger.Warn().Err(err).Msg("failed to mark entities synced")
	}

	return accepted, nil
}

func (p *BatchPusher) pushIndividual(ctx context.Context, m models.PendingMutation, result *models.PushResult) (bool, error) {
	resp, err := p.client.Submit(ctx, m.IdempotencyKey, api.SubmitRequest{
		EntityType: m.EntityType,
		Operation:  m.Operation,
		EntityID:   m.EntityID,
		Payload:    m.Payload,
	})
	result.Attempts++

	switch {
	case err == nil:
		// Accepted (or idempotent replay of an earlier ambiguous attempt).
	case api.IsConflict(err):
		// The key was already used with a different payload: this local
		// mutation is a duplicate. Drop it and trust the server's copy;
		// the next pull reconciles the entity.
		if derr := p.mutations.Delete(ctx, m.ID); derr != nil {
			return false, derr
		}
		if merr := p.entities.MarkSyncStatus(ctx, []string{m.EntityID}, models.SyncStatusSynced); merr != nil {
			p.logger.Warn().Err(merr).Msg("failed to mark deduped entity synced")
		}
		result.Deduped = append(result.Deduped, m.EntityID)
		p.logger.Info().Str("entity_id", m.EntityID).Msg("dropped duplicate mutation on conflict")
		return false, nil
	default:
		p.breaker.RecordFailure()
		if ierr := p.mutations.IncrementAttempts(ctx, []int64{m.ID}); ierr != nil {
			p.logger.Warn().Err(ierr).Msg("failed to record attempt")
		}
		result.Failed[m.EntityID] = err.Error()
		if api.IsRateLimited(err) || api.IsAuth(err) {
			return false, err
		}
		p.logger.Warn().Err(err).Str("entity_id", m.EntityID).Msg("individual push failed, left queued")
		return false, nil
	}

	p.breaker.RecordSuccess()

	// Dequeue before bookkeeping, same rule as the bulk path.
	if err := p.mutations.Delete(ctx, m.ID); err != nil {
		p.logger.Error().Err(err).Int64("mutation_id", m.ID).Msg("failed to dequeue accepted mutation")
		result.Failed[m.EntityID] = err.Error()
		return false, nil
	}
	if m.Operation != models.OperationDelete {
		if err := p.entities.MarkSyncStatus(ctx, []string{m.EntityID}, models.SyncStatusSynced); err != nil {
			p.logger.Warn().Err(err).Msg("failed to mark entity synced")
		}
	}

	result.Succeeded = append(result.Succeeded, resp.EntityID)
	return true, nil
}
