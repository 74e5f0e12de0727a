package tracksync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/prudhvinik1/tracksync/internal/api"
	"github.com/prudhvinik1/tracksync/internal/config"
	"github.com/prudhvinik1/tracksync/internal/database"
	"github.com/prudhvinik1/tracksync/internal/repositories"
	"github.com/prudhvinik1/tracksync/models"
)

const (
	settingLastSync  = "last_sync"
	settingForce     = "force_bootstrap"
	settingAuthError = "auth_error"
)

// TokenProvider supplies the opaque bearer credential for every request.
type TokenProvider = api.TokenProvider

// NewStaticToken wraps a fixed credential. JWT expiry, when present, is
// checked locally so an expired session fails fast.
func NewStaticToken(token string) TokenProvider {
	return api.NewStaticTokenProvider(token)
}

// Config carries construction-time settings for the engine.
type Config struct {
	APIBaseURL     string
	UserID         string
	Environment    string // namespaces cursor/settings keys, e.g. "prod"
	StorePath      string // entity + mutation-queue database file
	SettingsPath   string // independent settings database file
	RequestTimeout time.Duration
	BatchSize      int // bulk create chunk size, capped at 50 server-side
	PullPageSize   int // change-feed and bootstrap page size
}

// ConfigFromEnv builds a Config from TRACKSYNC_* environment variables,
// honoring a .env file if present.
func ConfigFromEnv() (Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return Config{}, err
	}
	return Config{
		APIBaseURL:     cfg.APIBaseURL,
		UserID:         cfg.UserID,
		Environment:    cfg.Environment,
		StorePath:      cfg.StorePath,
		SettingsPath:   cfg.SettingsPath,
		RequestTimeout: cfg.RequestTimeout,
		BatchSize:      cfg.BatchSize,
		PullPageSize:   cfg.PullPageSize,
	}, nil
}

// Option customizes engine construction.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	httpClient *http.Client
}

// WithLogger attaches a structured logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// Engine is the top-level sync orchestrator. It owns the single
// write-capable storage handle, sequences push before pull (or bootstrap)
// per cycle, coalesces concurrent callers, and publishes observable state.
type Engine struct {
	cfg        Config
	db         *sql.DB
	settingsDB *sql.DB

	client   *api.Client
	entities repositories.EntityRepository
	settings repositories.SettingsRepository

	queue    *MutationQueue
	pusher   *BatchPusher
	puller   *ChangeLogPuller
	importer *BootstrapImporter
	breaker  *CircuitBreaker
	states   *statePublisher

	// gate is the single-flight guard: it is taken before any network
	// call, the pre-sync health check included, so concurrent callers can
	// never race past it and duplicate work.
	gate *semaphore.Weighted

	lastSyncMu sync.Mutex
	lastSync   *time.Time

	logger zerolog.Logger
}

// New opens the local stores and assembles the engine. The caller must
// Close it; closing releases the storage handles, which should also happen
// when the embedding process is about to be suspended so no file lock is
// held across a suspend.
func New(ctx context.Context, cfg Config, tokens TokenProvider, opts ...Option) (*Engine, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("APIBaseURL is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("UserID is required")
	}
	if cfg.StorePath == "" {
		return nil, errors.New("StorePath is required")
	}
	if cfg.SettingsPath == "" {
		return nil, errors.New("SettingsPath is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = api.DefaultRequestTimeout
	}
	if cfg.Environment == "" {
		cfg.Environment = "prod"
	}

	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	db, err := database.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, err
	}
	settingsDB, err := database.OpenSettings(ctx, cfg.SettingsPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	clientOpts := []api.Option{
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(o.logger),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(o.httpClient))
	}
	client := api.NewClient(cfg.APIBaseURL, tokens, clientOpts...)

	entities := repositories.NewSQLiteEntityRepository(db)
	mutations := repositories.NewSQLiteMutationRepository(db)
	settings := repositories.NewSQLiteSettingsRepository(settingsDB, cfg.Environment+":"+cfg.UserID)

	breaker := NewCircuitBreaker()
	queue := NewMutationQueue(db, entities, mutations, cfg.UserID, o.logger)

	e := &Engine{
		cfg:        cfg,
		db:         db,
		settingsDB: settingsDB,
		client:     client,
		entities:   entities,
		settings:   settings,
		queue:      queue,
		pusher:     NewBatchPusher(client, entities, mutations, breaker, cfg.BatchSize, o.logger),
		puller:     NewChangeLogPuller(client, entities, settings, cfg.UserID, cfg.PullPageSize, o.logger),
		importer:   NewBootstrapImporter(client, entities, settings, cfg.UserID, cfg.PullPageSize, o.logger),
		breaker:    breaker,
		states:     newStatePublisher(),
		gate:       semaphore.NewWeighted(1),
		logger:     o.logger,
	}

	e.restoreDurableState(ctx)
	return e, nil
}

// restoreDurableState rehydrates last-sync time and any persisted auth error
// from the settings store.
func (e *Engine) restoreDurableState(ctx context.Context) {
	if raw, err := e.settings.Get(ctx, settingLastSync); err == nil {
		if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
			e.lastSync = &t
		}
	}
	if msg, err := e.settings.Get(ctx, settingAuthError); err == nil && msg != "" {
		e.states.Publish(SyncState{Phase: PhaseError, Err: msg, AuthRequired: true})
	}
}

// Close releases the storage handles.
func (e *Engine) Close() error {
	err := e.db.Close()
	if serr := e.settingsDB.Close(); err == nil {
		err = serr
	}
	return err
}

// Sync runs one push-then-pull cycle. Concurrent calls while a cycle is in
// flight observe the existing cycle and return immediately; the caller
// watches State/Subscribe for the outcome. The returned error mirrors the
// published error state for convenience.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.gate.TryAcquire(1) {
		e.logger.Debug().Msg("sync already in flight")
		return nil
	}
	defer e.gate.Release(1)
	return e.runCycle(ctx)
}

func (e *Engine) runCycle(ctx context.Context) error {
	if e.breaker.IsTripped() {
		e.publishRateLimited(ctx)
		return nil
	}

	// One lightweight call validates connectivity and the credential before
	// any heavy work.
	if err := e.client.Health(ctx); err != nil {
		return e.failCycle(ctx, fmt.Errorf("health check: %w", err), true)
	}
	e.clearAuthError(ctx)

	muts, err := e.queue.DequeueBatch(ctx, 0)
	if err != nil {
		return e.failCycle(ctx, err, false)
	}

	e.states.Publish(SyncState{Phase: PhaseSyncing, TotalToPush: len(muts)})
	_, err = e.pusher.Push(ctx, muts, func(pushed, total int) {
		e.states.Publish(SyncState{Phase: PhaseSyncing, Pushed: pushed, TotalToPush: total})
	})
	if err != nil {
		// The pusher already recorded its own breaker failures per attempt.
		return e.failCycle(ctx, fmt.Errorf("push: %w", err), false)
	}
	if e.breaker.IsTripped() {
		e.publishRateLimited(ctx)
		return nil
	}

	cursor, err := e.settings.GetInt64(ctx, settingCursor)
	if err != nil {
		return e.failCycle(ctx, err, false)
	}
	force := e.forceBootstrapRequested(ctx)

	e.states.Publish(SyncState{Phase: PhasePulling})
	if cursor == 0 || force {
		if _, err := e.importer.Bootstrap(ctx); err != nil {
			return e.failCycle(ctx, fmt.Errorf("bootstrap: %w", err), true)
		}
		if err := e.settings.Delete(ctx, settingForce); err != nil {
			e.logger.Warn().Err(err).Msg("failed to clear force-bootstrap flag")
		}
	} else {
		if _, err := e.puller.Pull(ctx, cursor, func(applied int) {
			e.states.Publish(SyncState{Phase: PhasePulling, Applied: applied})
		}); err != nil {
			return e.failCycle(ctx, fmt.Errorf("pull: %w", err), true)
		}
	}

	// Push and pull both succeeded: the breaker closes fully, backoff
	// multiplier included.
	e.breaker.Reset()

	now := time.Now()
	e.setLastSync(now)
	if err := e.settings.Set(ctx, settingLastSync, now.UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist last sync time")
	}

	e.states.Publish(SyncState{Phase: PhaseIdle})
	e.logger.Info().Int("pushed", len(muts)).Msg("sync cycle complete")
	return nil
}

// failCycle classifies a cycle-terminal error, records breaker accounting
// when this stage has not already done so, and publishes the matching state.
func (e *Engine) failCycle(ctx context.Context, err error, countAttempt bool) error {
	switch {
	case api.IsRateLimited(err):
		if countAttempt {
			e.breaker.RecordFailure()
		}
		e.publishRateLimited(ctx)

	case api.IsAuth(err):
		// Requires user re-authentication; persisted and never auto-retried
		// so the UI can distinguish it from a transient fault.
		msg := "authentication required"
		if serr := e.settings.Set(ctx, settingAuthError, msg); serr != nil {
			e.logger.Warn().Err(serr).Msg("failed to persist auth error")
		}
		e.states.Publish(SyncState{Phase: PhaseError, Err: msg, AuthRequired: true})

	case api.IsTransient(err):
		// Data is safely queued locally; nothing user-facing beyond
		// "pending". Still a failed attempt for backpressure purposes.
		if countAttempt {
			e.breaker.RecordFailure()
		}
		e.logger.Warn().Err(err).Msg("transient sync failure, will retry next cycle")
		e.states.Publish(SyncState{Phase: PhaseIdle})

	default:
		// Local storage or programming fault: fatal for this cycle, fresh
		// attempt next time.
		e.states.Publish(SyncState{Phase: PhaseError, Err: err.Error()})
	}

	e.logger.Debug().Err(err).Msg("sync cycle ended early")
	return err
}

func (e *Engine) publishRateLimited(ctx context.Context) {
	pending, err := e.queue.Count(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to count pending mutations")
	}
	e.states.Publish(SyncState{
		Phase:      PhaseRateLimited,
		RetryAfter: e.breaker.BackoffRemaining(),
		Pending:    pending,
	})
}

func (e *Engine) clearAuthError(ctx context.Context) {
	if err := e.settings.Delete(ctx, settingAuthError); err != nil {
		e.logger.Warn().Err(err).Msg("failed to clear auth error")
	}
}

func (e *Engine) forceBootstrapRequested(ctx context.Context) bool {
	v, err := e.settings.Get(ctx, settingForce)
	if err != nil {
		return false
	}
	return v == "1"
}

// ForceFullResync resets the cursor to 0, flags the next cycle for
// bootstrap, and runs a cycle through the normal path. Resync is a
// parameter, not a separate code path.
func (e *Engine) ForceFullResync(ctx context.Context) error {
	if err := e.settings.SetInt64(ctx, settingCursor, 0); err != nil {
		return err
	}
	if err := e.settings.Set(ctx, settingForce, "1"); err != nil {
		return err
	}
	e.logger.Info().Msg("full resync requested")
	return e.Sync(ctx)
}

// FastForwardCursor jumps the cursor to the server's latest change-log
// position without applying the backlog. Explicitly data-loss-accepting:
// skipped entries are never replayed.
func (e *Engine) FastForwardCursor(ctx context.Context) error {
	latest, err := e.client.LatestCursor(ctx)
	if err != nil {
		return err
	}
	current, err := e.settings.GetInt64(ctx, settingCursor)
	if err != nil {
		return err
	}
	if latest <= current {
		return nil
	}
	e.logger.Warn().Int64("from", current).Int64("to", latest).Msg("fast-forwarding cursor past backlog")
	return e.settings.SetInt64(ctx, settingCursor, latest)
}

// QueueMutation records a local write intent durably and returns its
// idempotency key. Safe to call while a sync cycle is in flight.
func (e *Engine) QueueMutation(ctx context.Context, entityType models.EntityType, op models.Operation, entityID string, payload []byte) (string, error) {
	return e.queue.Enqueue(ctx, entityType, op, entityID, payload)
}

// ClearPendingMutations abandons every queued mutation. Destructive and
// opt-in; with markEntitiesFailed the affected entities are flagged so the
// UI can tell the user their unsynced changes were dropped.
func (e *Engine) ClearPendingMutations(ctx context.Context, markEntitiesFailed bool) (int64, error) {
	return e.queue.Clear(ctx, markEntitiesFailed)
}

// State returns the current observable state.
func (e *Engine) State() SyncState {
	return e.states.Current()
}

// Subscribe returns a channel of state transitions and a cancel func.
func (e *Engine) Subscribe() (<-chan SyncState, func()) {
	return e.states.Subscribe()
}

// PendingCount reports how many mutations await transmission.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.Count(ctx)
}

// LastSyncTime returns when the last fully successful cycle finished, nil if
// never.
func (e *Engine) LastSyncTime() *time.Time {
	e.lastSyncMu.Lock()
	defer e.lastSyncMu.Unlock()
	if e.lastSync == nil {
		return nil
	}
	t := *e.lastSync
	return &t
}

func (e *Engine) setLastSync(t time.Time) {
	e.lastSyncMu.Lock()
	defer e.lastSyncMu.Unlock()
	e.lastSync = &t
}

// IsCircuitBreakerTripped reports whether sync attempts are suspended.
func (e *Engine) IsCircuitBreakerTripped() bool {
	return e.breaker.IsTripped()
}

// CircuitBreakerBackoffRemaining returns how long until attempts resume.
func (e *Engine) CircuitBreakerBackoffRemaining() time.Duration {
	return e.breaker.BackoffRemaining()
}

// Status assembles the sync health summary: local counts, cursor positions,
// and a backlog estimate from the server's latest cursor (best-effort; 0
// when unreachable).
func (e *Engine) Status(ctx context.Context) (*models.SyncSummary, error) {
	counts, err := e.entities.CountByType(ctx, e.cfg.UserID)
	if err != nil {
		return nil, err
	}
	pending, err := e.queue.Count(ctx)
	if err != nil {
		return nil, err
	}
	localCursor, err := e.settings.GetInt64(ctx, settingCursor)
	if err != nil {
		return nil, err
	}

	var latest int64
	if l, lerr := e.client.LatestCursor(ctx); lerr == nil {
		latest = l
	} else {
		e.logger.Debug().Err(lerr).Msg("latest cursor unavailable for status")
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	backlog := latest - localCursor
	if backlog < 0 {
		backlog = 0
	}

	status, recs := models.ComputeSummaryStatus(pending, localCursor, latest, total)
	return &models.SyncSummary{
		LastSync:        e.LastSyncTime(),
		Pending:         pending,
		Counts:          counts,
		LocalCursor:     localCursor,
		LatestCursor:    latest,
		Backlog:         backlog,
		Status:          status,
		Recommendations: recs,
	}, nil
}
