package tracksync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/tracksync/internal/api"
	"github.com/prudhvinik1/tracksync/internal/repositories"
	"github.com/prudhvinik1/tracksync/models"
)

// BootstrapImporter performs full-state resynchronization: wipe every local
// entity for the user, re-download everything, then jump the cursor to the
// server's latest change-log position so the incremental puller does not
// re-apply history that the import already delivered in current-state form.
//
// The sequence is deliberately not transactional across steps. Any failure
// leaves a partial wipe behind and the cycle reports an error; re-running
// the whole sequence converges regardless of how far a prior attempt got.
type BootstrapImporter struct {
	client   *api.Client
	entities repositories.EntityRepository
	settings repositories.SettingsRepository
	userID   string
	pageSize int
	logger   zerolog.Logger
}

func NewBootstrapImporter(
	client *api.Client,
	entities repositories.EntityRepository,
	settings repositories.SettingsRepository,
	userID string,
	pageSize int,
	logger zerolog.Logger,
) *BootstrapImporter {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &BootstrapImporter{
		client:   client,
		entities: entities,
		settings: settings,
		userID:   userID,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Bootstrap runs the wipe-and-redownload sequence and returns how many
// entities were imported.
func (b *BootstrapImporter) Bootstrap(ctx context.Context) (*models.BootstrapResult, error) {
	wiped, err := b.entities.DeleteAllForUser(ctx, b.userID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap wipe failed: %w", err)
	}
	b.logger.Info().Int64("wiped", wiped).Msg("bootstrap wiped local entities")

	imported := 0
	for _, entityType := range models.AllEntityTypes {
		n, err := b.importType(ctx, entityType)
		if err != nil {
			return nil, err
		}
		imported += n
	}

	// The import fetched current state, which already reflects every
	// change-log entry up to "now". Setting the cursor to the server's
	// latest ID (not 0) keeps the incremental puller from replaying that
	// backlog on the next cycle.
	latest, err := b.client.LatestCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap failed to fetch latest cursor: %w", err)
	}
	if err := b.settings.SetInt64(ctx, settingCursor, latest); err != nil {
		return nil, fmt.Errorf("bootstrap failed to persist cursor: %w", err)
	}

	b.logger.Info().Int("imported", imported).Int64("cursor", latest).Msg("bootstrap complete")
	return &models.BootstrapResult{Imported: imported, Cursor: latest}, nil
}

// importType pages through the full server-side listing for one entity type
// until a short page signals completion.
func (b *BootstrapImporter) importType(ctx context.Context, entityType models.EntityType) (int, error) {
	imported := 0
	for offset := 0; ; offset += b.pageSize {
		records, err := b.client.ListEntities(ctx, entityType, offset, b.pageSize)
		if err != nil {
			return imported, fmt.Errorf("bootstrap listing %s failed: %w", entityType, err)
		}

		for _, record := range records {
			entity := &models.Entity{
				ID:         record.ID,
				UserID:     b.userID,
				EntityType: entityType,
				Payload:    record.Payload,
				SyncStatus: models.SyncStatusSynced,
			}
			if err := b.entities.Upsert(ctx, entity); err != nil {
				return imported, fmt.Errorf("bootstrap insert %s failed: %w", record.ID, err)
			}
			imported++
		}

		if len(records) < b.pageSize {
			return imported, nil
		}
	}
}
