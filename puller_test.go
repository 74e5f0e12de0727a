package tracksync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/tracksync/internal/repositories"
	"github.com/prudhvinik1/tracksync/models"
)

func newTestPuller(env *testEnv, pageSize int) *ChangeLogPuller {
	return NewChangeLogPuller(env.client, env.entities, env.settings, testUserID, pageSize, zerolog.Nop())
}

func seedChanges(server *fakeServer, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = models.NewEntityID()
		server.seed(models.EntityTypeEvent, ids[i], json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}
	return ids
}

func TestChangeLogPuller_AppliesAllPages(t *testing.T) {
	server := newFakeServer(t)
	env := newTestEnv(t, server)
	puller := newTestPuller(env, 100)
	ctx := context.Background()

	ids := seedChanges(server, 250)

	var lastProgress int
	result, err := puller.Pull(ctx, 0, func(applied int) { lastProgress = applied })
	require.NoError(t, err)

	assert.Equal(t, 250, result.Applied)
	assert.Equal(t, int64(250), result.NewCursor)
	assert.Equal(t, 250, lastProgress)

	_, _, _, changesCalls, _ := server.calls()
	assert.Equal(t, 3, changesCalls, "250 entries at page size 100 is 3 pages")

	// Entities land locally as synced; nothing gets queued for push.
	entity, err := env.entities.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, entity.SyncStatus)

	cursor, err := env.settings.GetInt64(ctx, settingCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(250), cursor)
}

func TestChangeLogPuller_CursorAdvancesOnlyAtPageBoundaries(t *testing.T) {
	server := newFakeServer(t)
	env := newTestEnv(t, server)
	puller := newTestPuller(env, 100)
	ctx := context.Background()

	seedChanges(server, 250)

	// The first page succeeds, the second fails. The persisted cursor must
	// sit exactly at the end of the last fully applied page.
	server.changesOKCalls = 1
	server.changesStatus = 500

	result, err := puller.Pull(ctx, 0, nil)
	require.Error(t, err)
	assert.Equal(t, 100, result.Applied)
	assert.Equal(t, int64(100), result.NewCursor)

	cursor, err := env.settings.GetInt64(ctx, settingCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cursor)

	// Recovery resumes from the persisted cursor, not from zero.
	server.changesStatus = 0
	result, err = puller.Pull(ctx, cursor, nil)
	require.NoError(t, err)
	assert.Equal(t, 150, result.Applied, "resume must only fetch the remaining entries")
	assert.Equal(t, int64(250), result.NewCursor)
}

func TestChangeLogPuller_EmptyFeedPreservesCursor(t *testing.T) {
	server := newFakeServer(t)
	env := newTestEnv(t, server)
	puller := newTestPuller(env, 100)
	ctx := context.Background()

	seedChanges(server, 10)
	_, err := puller.Pull(ctx, 0, nil)
	require.NoError(t, err)

	// A quiet feed must not rewind the cursor or look like a first sync.
	result, err := puller.Pull(ctx, 10, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Applied)
	assert.Equal(t, int64(10), result.NewCursor)

	cursor, err := env.settings.GetInt64(ctx, settingCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cursor)
}

func TestChangeLogPuller_AppliesDeletes(t *testing.T) {
	server := newFakeServer(t)
	env := newTestEnv(t, server)
	puller := newTestPuller(env, 100)
	ctx := context.Background()

	id := models.NewEntityID()
	server.seed(models.EntityTypeEvent, id, json.RawMessage(`{"n":1}`))

	_, err := puller.Pull(ctx, 0, nil)
	require.NoError(t, err)
	_, err = env.entities.GetByID(ctx, id)
	require.NoError(t, err)

	// A remote delete removes the local copy on the next pull.
	server.mu.Lock()
	server.storeLocked(models.EntityTypeEvent, id, nil, models.OperationDelete)
	server.mu.Unlock()

	result, err := puller.Pull(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	_, err = env.entities.GetByID(ctx, id)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestChangeLogPuller_SkipsUnknownOperations(t *testing.T) {
	server := newFakeServer(t)
	env := newTestEnv(t, server)
	puller := newTestPuller(env, 100)
	ctx := context.Background()

	id := models.NewEntityID()
	server.seed(models.EntityTypeEvent, id, json.RawMessage(`{"n":1}`))

	// A newer server may emit operation kinds this client predates; they must
	// not fail the page.
	server.mu.Lock()
	server.nextID++
	server.changes = append(server.changes, models.ChangeEntry{
		ID:         server.nextID,
		EntityType: models.EntityTypeEvent,
		Operation:  "archive",
		EntityID:   id,
	})
	server.mu.Unlock()

	result, err := puller.Pull(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, int64(2), result.NewCursor)
}
