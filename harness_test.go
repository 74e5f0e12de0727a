package tracksync

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/tracksync/internal/api"
	"github.com/prudhvinik1/tracksync/internal/database"
	"github.com/prudhvinik1/tracksync/internal/repositories"
)

const testUserID = "user-1"

// testEnv wires real SQLite stores and an API client against a fakeServer,
// so component tests exercise the same storage path production uses.
type testEnv struct {
	db         *sql.DB
	settingsDB *sql.DB
	entities   repositories.EntityRepository
	mutations  repositories.MutationRepository
	settings   repositories.SettingsRepository
	client     *api.Client
	breaker    *CircuitBreaker
	queue      *MutationQueue
}

func newTestEnv(t *testing.T, server *fakeServer) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := database.Open(ctx, filepath.Join(dir, "store.db"))
	require.NoError(t, err, "failed to open entity store")
	t.Cleanup(func() { db.Close() })

	settingsDB, err := database.OpenSettings(ctx, filepath.Join(dir, "settings.db"))
	require.NoError(t, err, "failed to open settings store")
	t.Cleanup(func() { settingsDB.Close() })

	entities := repositories.NewSQLiteEntityRepository(db)
	mutations := repositories.NewSQLiteMutationRepository(db)
	settings := repositories.NewSQLiteSettingsRepository(settingsDB, "test:"+testUserID)

	var client *api.Client
	if server != nil {
		client = api.NewClient(server.URL(), api.NewStaticTokenProvider("test-token"))
	}

	return &testEnv{
		db:         db,
		settingsDB: settingsDB,
		entities:   entities,
		mutations:  mutations,
		settings:   settings,
		client:     client,
		breaker:    NewCircuitBreaker(),
		queue:      NewMutationQueue(db, entities, mutations, testUserID, zerolog.Nop()),
	}
}
