package tracksync

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/tracksync/models"
)

func newTestEngine(t *testing.T, server *fakeServer) *Engine {
	t.Helper()
	dir := t.TempDir()

	engine, err := New(context.Background(), Config{
		APIBaseURL:   server.URL(),
		UserID:       testUserID,
		Environment:  "test",
		StorePath:    filepath.Join(dir, "store.db"),
		SettingsPath: filepath.Join(dir, "settings.db"),
		BatchSize:    50,
		PullPageSize: 100,
	}, NewStaticToken("test-token"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestEngine_SyncConvergesQueuedMutation(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	id := models.NewEntityID()
	key, err := engine.QueueMutation(ctx, models.EntityTypeEvent, models.OperationCreate, id, json.RawMessage(`{"name":"run"}`))
	require.NoError(t, err)
	require.NotEmpty(t, key)

	require.NoError(t, engine.Sync(ctx))

	// The server holds the entity, nothing is queued, and the engine settled
	// back to idle with a recorded sync time.
	assert.Equal(t, 1, server.entityCount(models.EntityTypeEvent))

	pending, err := engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	assert.Equal(t, PhaseIdle, engine.State().Phase)
	require.NotNil(t, engine.LastSyncTime())
	assert.WithinDuration(t, time.Now(), *engine.LastSyncTime(), time.Minute)
}

func TestEngine_FirstSyncBootstrapsThenPullsIncrementally(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	seedChanges(server, 10)

	// Cursor is unset, so the first cycle takes the bootstrap path.
	require.NoError(t, engine.Sync(ctx))
	_, _, _, changesBefore, listCalls := server.calls()
	assert.Positive(t, listCalls, "first sync must use the listing endpoints")
	assert.Zero(t, changesBefore, "bootstrap must not touch the change feed")

	// The next cycle is incremental and quiet.
	require.NoError(t, engine.Sync(ctx))
	_, _, _, changesAfter, _ := server.calls()
	assert.Positive(t, changesAfter)
	assert.Equal(t, PhaseIdle, engine.State().Phase)
}

func TestEngine_RepeatedRateLimitsTripBreaker(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	_, err := engine.QueueMutation(ctx, models.EntityTypeEvent, models.OperationCreate, models.NewEntityID(), json.RawMessage(`{}`))
	require.NoError(t, err)

	server.batchStatus = 429

	for i := 0; i < BreakerThreshold; i++ {
		require.Error(t, engine.Sync(ctx))
	}
	assert.True(t, engine.IsCircuitBreakerTripped(), "three rate-limited cycles must trip the breaker")
	assert.Positive(t, engine.CircuitBreakerBackoffRemaining())

	// While tripped, a sync attempt publishes the backoff state without any
	// network traffic.
	healthBefore, _, _, _, _ := server.calls()
	require.NoError(t, engine.Sync(ctx))
	healthAfter, _, _, _, _ := server.calls()
	assert.Equal(t, healthBefore, healthAfter, "a tripped breaker must suppress the health check")

	state := engine.State()
	assert.Equal(t, PhaseRateLimited, state.Phase)
	assert.Equal(t, 1, state.Pending)
	assert.Positive(t, state.RetryAfter)

	// The mutation survives all of it.
	pending, err := engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestEngine_ConcurrentSyncCoalesces(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	gate := make(chan struct{})
	server.mu.Lock()
	server.healthGate = gate
	server.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Sync(ctx)
	}()

	// Wait for the first cycle to reach the blocked health check.
	require.Eventually(t, func() bool {
		health, _, _, _, _ := server.calls()
		return health == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Concurrent callers observe the in-flight cycle and return immediately
	// without issuing a second health check.
	for i := 0; i < 5; i++ {
		require.NoError(t, engine.Sync(ctx))
	}
	health, _, _, _, _ := server.calls()
	assert.Equal(t, 1, health, "exactly one cycle may be in flight")

	close(gate)
	wg.Wait()
	assert.Equal(t, PhaseIdle, engine.State().Phase)
}

func TestEngine_AuthFailureIsPersistedAndNotRetriedBlindly(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	server.mu.Lock()
	server.healthStatus = 401
	server.mu.Unlock()

	require.Error(t, engine.Sync(ctx))
	state := engine.State()
	assert.Equal(t, PhaseError, state.Phase)
	assert.True(t, state.AuthRequired, "a 401 must be surfaced as an auth problem, not a generic error")

	// After re-authentication the next explicit sync clears the state.
	server.mu.Lock()
	server.healthStatus = 0
	server.mu.Unlock()

	require.NoError(t, engine.Sync(ctx))
	assert.Equal(t, PhaseIdle, engine.State().Phase)
	assert.False(t, engine.State().AuthRequired)
}

func TestEngine_ForceFullResyncRebuildsLocalState(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	seedChanges(server, 8)
	require.NoError(t, engine.Sync(ctx))

	// More remote data arrives, then the user requests a full resync.
	seedChanges(server, 4)
	require.NoError(t, engine.ForceFullResync(ctx))

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, status.Counts[models.EntityTypeEvent])
	assert.Equal(t, status.LatestCursor, status.LocalCursor, "resync must land the cursor on the server's latest")
	assert.Equal(t, models.SummaryStatusAllSynced, status.Status)
}

func TestEngine_FastForwardCursorSkipsBacklogWithoutApplying(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	seedChanges(server, 3)
	require.NoError(t, engine.Sync(ctx))

	// A backlog accumulates; fast-forward jumps past it without downloading.
	seedChanges(server, 5)
	require.NoError(t, engine.FastForwardCursor(ctx))

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.LatestCursor, status.LocalCursor)
	assert.Equal(t, 3, status.Counts[models.EntityTypeEvent], "skipped entries must not be applied")

	// The next pull finds nothing: the skipped entries are gone for good.
	require.NoError(t, engine.Sync(ctx))
	status, err = engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Counts[models.EntityTypeEvent])
}

func TestEngine_StatusReportsPendingChanges(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	seedChanges(server, 2)
	require.NoError(t, engine.Sync(ctx))

	_, err := engine.QueueMutation(ctx, models.EntityTypeEvent, models.OperationCreate, models.NewEntityID(), json.RawMessage(`{}`))
	require.NoError(t, err)

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SummaryStatusPendingChanges, status.Status)
	assert.Equal(t, 1, status.Pending)
	assert.NotEmpty(t, status.Recommendations)
}

func TestEngine_SubscribeObservesCycleTransitions(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	states, cancel := engine.Subscribe()
	defer cancel()

	_, err := engine.QueueMutation(ctx, models.EntityTypeEvent, models.OperationCreate, models.NewEntityID(), json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, engine.Sync(ctx))

	var phases []SyncPhase
	for {
		select {
		case s := <-states:
			phases = append(phases, s.Phase)
			if s.Phase == PhaseIdle {
				assert.Contains(t, phases, PhaseSyncing)
				assert.Contains(t, phases, PhasePulling)
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("never observed the idle transition")
		}
	}
}

func TestEngine_ClearPendingMutations(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.QueueMutation(ctx, models.EntityTypeEvent, models.OperationCreate, models.NewEntityID(), json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	cleared, err := engine.ClearPendingMutations(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)

	pending, err := engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
