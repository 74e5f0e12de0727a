package models

import (
	"encoding/json"
	"time"
)

// PendingMutation is a durable record of a local write intent awaiting
// transmission to the server. It is written in the same transaction as the
// entity change it describes and removed only after the server has durably
// accepted it.
type PendingMutation struct {
	ID             int64           `json:"id"`
	EntityType     EntityType      `json:"entity_type"`
	Operation      Operation       `json:"operation"`
	EntityID       string          `json:"entity_id"`
	UserID         string          `json:"user_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	AttemptCount   int             `json:"attempt_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PushResult summarizes one push pass over the mutation queue.
type PushResult struct {
	Succeeded []string          `json:"succeeded"`         // entity IDs durably accepted
	Failed    map[string]string `json:"failed,omitempty"`  // entity ID -> error message
	Deduped   []string          `json:"deduped,omitempty"` // local duplicates dropped on 409
	Attempts  int               `json:"attempts"`          // network attempts consumed
}

// PullResult summarizes one incremental pull.
type PullResult struct {
	Applied   int   `json:"applied"`
	NewCursor int64 `json:"new_cursor"`
}

// BootstrapResult summarizes a full wipe-and-redownload.
type BootstrapResult struct {
	Imported int   `json:"imported"`
	Cursor   int64 `json:"cursor"`
}
