package tracksync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/prudhvinik1/tracksync/models"
)

// fakeServer is an in-memory stand-in for the remote sync API, covering the
// health, bulk, individual, change-feed, and listing endpoints. Tests flip
// the *Status fields to force error responses on specific endpoints.
type fakeServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	entities map[models.EntityType][]storedEntity
	changes  []models.ChangeEntry
	nextID   int64

	// Forced status codes; 0 means behave normally.
	healthStatus  int
	batchStatus   int
	submitStatus  int
	changesStatus int
	listStatus    int

	// changesOKCalls lets the first N change-feed calls succeed before
	// changesStatus kicks in, for mid-pull failure tests.
	changesOKCalls int

	// conflictKeys forces a 409 for specific idempotency keys.
	conflictKeys map[string]bool
	// duplicateIDs reports "duplicate" instead of "created" in batch results.
	duplicateIDs map[string]bool
	// seenKeys maps idempotency key to entity ID for replay detection.
	seenKeys map[string]string

	healthCalls  int
	batchCalls   int
	submitCalls  int
	changesCalls int
	listCalls    int

	// healthGate, when set, blocks the health handler until closed. Used to
	// hold a sync cycle in flight while concurrent callers are tested.
	healthGate chan struct{}
}

type storedEntity struct {
	ID      string
	Payload json.RawMessage
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		entities:     make(map[models.EntityType][]storedEntity),
		conflictKeys: make(map[string]bool),
		duplicateIDs: make(map[string]bool),
		seenKeys:     make(map[string]string),
	}

	r := chi.NewRouter()
	r.Get("/health", f.handleHealth)
	r.Post("/entities/batch", f.handleBatch)
	r.Post("/entities", f.handleSubmit)
	r.Get("/entities", f.handleList)
	r.Get("/changes", f.handleChanges)
	r.Get("/changes/latest", f.handleLatest)

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) URL() string { return f.srv.URL }

// seed stores an entity and appends the matching change-log entry, the way a
// real server would when another device writes.
func (f *fakeServer) seed(entityType models.EntityType, id string, payload json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeLocked(entityType, id, payload, models.OperationCreate)
}

func (f *fakeServer) storeLocked(entityType models.EntityType, id string, payload json.RawMessage, op models.Operation) {
	list := f.entities[entityType]
	found := false
	for i := range list {
		if list[i].ID == id {
			list[i].Payload = payload
			found = true
			break
		}
	}
	if !found && op != models.OperationDelete {
		list = append(list, storedEntity{ID: id, Payload: payload})
	}
	if op == models.OperationDelete {
		filtered := list[:0]
		for _, e := range list {
			if e.ID != id {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}
	f.entities[entityType] = list

	f.nextID++
	f.changes = append(f.changes, models.ChangeEntry{
		ID:         f.nextID,
		EntityType: entityType,
		Operation:  op,
		EntityID:   id,
		Data:       payload,
	})
}

func (f *fakeServer) entityCount(entityType models.EntityType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entities[entityType])
}

func (f *fakeServer) calls() (health, batch, submit, changes, list int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls, f.batchCalls, f.submitCalls, f.changesCalls, f.listCalls
}

func (f *fakeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.healthCalls++
	status := f.healthStatus
	gate := f.healthGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++

	if f.batchStatus != 0 {
		http.Error(w, http.StatusText(f.batchStatus), f.batchStatus)
		return
	}

	var items []models.BatchItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(items) > 50 {
		http.Error(w, "batch too large", http.StatusBadRequest)
		return
	}

	resp := models.BatchResponse{}
	for _, item := range items {
		status := "created"
		if f.duplicateIDs[item.ID] {
			status = "duplicate"
		} else {
			f.storeLocked(item.EntityType, item.ID, item.Payload, models.OperationCreate)
		}
		resp.Results = append(resp.Results, models.BatchItemStatus{EntityID: item.ID, Status: status})
	}
	writeJSON(w, resp)
}

func (f *fakeServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++

	if f.submitStatus != 0 {
		http.Error(w, http.StatusText(f.submitStatus), f.submitStatus)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if f.conflictKeys[key] {
		http.Error(w, "idempotency key conflict", http.StatusConflict)
		return
	}

	var req struct {
		EntityType models.EntityType `json:"entity_type"`
		Operation  models.Operation  `json:"operation"`
		EntityID   string            `json:"entity_id"`
		Payload    json.RawMessage   `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if prior, seen := f.seenKeys[key]; seen {
		w.Header().Set("X-Idempotency-Replayed", "true")
		writeJSON(w, map[string]string{"entity_id": prior})
		return
	}
	f.seenKeys[key] = req.EntityID

	f.storeLocked(req.EntityType, req.EntityID, req.Payload, req.Operation)
	writeJSON(w, map[string]string{"entity_id": req.EntityID})
}

func (f *fakeServer) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	if f.listStatus != 0 {
		http.Error(w, http.StatusText(f.listStatus), f.listStatus)
		return
	}

	entityType := models.EntityType(r.URL.Query().Get("type"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list := f.entities[entityType]
	if offset > len(list) {
		offset = len(list)
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}

	page := make([]map[string]any, 0, end-offset)
	for _, e := range list[offset:end] {
		page = append(page, map[string]any{"id": e.ID, "payload": e.Payload})
	}
	writeJSON(w, page)
}

func (f *fakeServer) handleChanges(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changesCalls++

	if f.changesStatus != 0 && f.changesCalls > f.changesOKCalls {
		http.Error(w, http.StatusText(f.changesStatus), f.changesStatus)
		return
	}

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	var page []models.ChangeEntry
	hasMore := false
	for _, c := range f.changes {
		if c.ID <= since {
			continue
		}
		if len(page) == limit {
			hasMore = true
			break
		}
		page = append(page, c)
	}

	nextCursor := since
	if len(page) > 0 {
		nextCursor = page[len(page)-1].ID
	}
	writeJSON(w, models.ChangeFeedResponse{Changes: page, NextCursor: nextCursor, HasMore: hasMore})
}

func (f *fakeServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, map[string]int64{"cursor": f.nextID})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
