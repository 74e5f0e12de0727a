package models

import (
	"encoding/json"
	"time"
)

// ChangeEntry is a single entry in the server-side change log.
type ChangeEntry struct {
	ID         int64           `json:"id"` // monotonic cursor
	EntityType EntityType      `json:"entity_type"`
	Operation  Operation       `json:"operation"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data,omitempty"` // full entity data for create/update
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ChangeFeedResponse is the envelope returned by GET /changes.
// NextCursor preserves the request cursor when no new entries exist, so a
// quiet feed is never mistaken for a first-time sync.
type ChangeFeedResponse struct {
	Changes    []ChangeEntry `json:"changes"`
	NextCursor int64         `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

// BatchItem is one create payload submitted to the bulk endpoint.
type BatchItem struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	Payload    json.RawMessage `json:"payload"`
}

// BatchItemStatus reports the outcome for one entity in a batch response.
// Duplicate IDs (already exist server-side) are reported as "duplicate" and
// count as success: the bulk endpoint has upsert semantics.
type BatchItemStatus struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"` // "created" | "duplicate" | "error"
	Message  string `json:"message,omitempty"`
}

// BatchResponse is the envelope returned by POST /entities/batch.
type BatchResponse struct {
	Results []BatchItemStatus `json:"results"`
}

// Accepted reports whether the item outcome means the server durably holds
// the entity.
func (s BatchItemStatus) Accepted() bool {
	return s.Status == "created" || s.Status == "duplicate"
}
