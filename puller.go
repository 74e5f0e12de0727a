package tracksync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/tracksync/internal/api"
	"github.com/prudhvinik1/tracksync/internal/repositories"
	"github.com/prudhvinik1/tracksync/models"
)

// settingCursor is the settings key holding the change-log cursor. It lives
// in the settings store, not the entity store, so it survives an entity wipe.
const settingCursor = "sync_cursor"

// ChangeLogPuller applies server-side changes in bounded pages, advancing
// the persisted cursor only at page boundaries. A failure mid-pull leaves
// the cursor at the last fully applied page, so the next attempt resumes
// from exactly there; re-applying a page is a harmless re-upsert.
type ChangeLogPuller struct {
	client   *api.Client
	entities repositories.EntityRepository
	settings repositories.SettingsRepository
	userID   string
	pageSize int
	logger   zerolog.Logger
}

func NewChangeLogPuller(
	client *api.Client,
	entities repositories.EntityRepository,
	settings repositories.SettingsRepository,
	userID string,
	pageSize int,
	logger zerolog.Logger,
) *ChangeLogPuller {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ChangeLogPuller{
		client:   client,
		entities: entities,
		settings: settings,
		userID:   userID,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Pull fetches and applies change-log entries with IDs strictly greater than
// sinceCursor until a short page signals the end of the feed. progress, if
// non-nil, is invoked with the running applied count after every page.
func (p *ChangeLogPuller) Pull(ctx context.Context, sinceCursor int64, progress func(applied int)) (*models.PullResult, error) {
	cursor := sinceCursor
	applied := 0

	for {
		resp, err := p.client.Changes(ctx, cursor, p.pageSize)
		if err != nil {
			return &models.PullResult{Applied: applied, NewCursor: cursor}, err
		}

		for _, entry := range resp.Changes {
			if err := p.apply(ctx, entry); err != nil {
				return &models.PullResult{Applied: applied, NewCursor: cursor},
					fmt.Errorf("failed to apply change %d: %w", entry.ID, err)
			}
		}

		if n := len(resp.Changes); n > 0 {
			newCursor := resp.Changes[n-1].ID
			// The cursor only moves forward; a stale or reordered page must
			// never rewind it.
			if newCursor > cursor {
				if err := p.settings.SetInt64(ctx, settingCursor, newCursor); err != nil {
					return &models.PullResult{Applied: applied, NewCursor: cursor}, err
				}
				cursor = newCursor
			}
			applied += n
		}

		if progress != nil {
			progress(applied)
		}

		if !resp.HasMore {
			break
		}
	}

	p.logger.Info().Int("applied", applied).Int64("cursor", cursor).Msg("pull complete")
	return &models.PullResult{Applied: applied, NewCursor: cursor}, nil
}

// apply mirrors one remote change into local storage: create/update upserts
// by canonical ID, delete removes the local entity if present.
func (p *ChangeLogPuller) apply(ctx context.Context, entry models.ChangeEntry) error {
	switch entry.Operation {
	case models.OperationCreate, models.OperationUpdate:
		return p.entities.Upsert(ctx, &models.Entity{
			ID:         entry.EntityID,
			UserID:     p.userID,
			EntityType: entry.EntityType,
			Payload:    entry.Data,
			SyncStatus: models.SyncStatusSynced,
		})
	case models.OperationDelete:
		return p.entities.Delete(ctx, entry.EntityID)
	default:
		// Unknown operations are skipped rather than failing the page; a
		// newer server may emit kinds this client predates.
		p.logger.Warn().Str("operation", string(entry.Operation)).Int64("id", entry.ID).
			Msg("skipping unknown change operation")
		return nil
	}
}
