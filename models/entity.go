package models

import (
	"encoding/json"
	"time"
)

// EntityType identifies the kind of user-owned record being synchronized.
type EntityType string

const (
	EntityTypeEvent              EntityType = "event"
	EntityTypeEventType          EntityType = "event_type"
	EntityTypeGeofence           EntityType = "geofence"
	EntityTypePropertyDefinition EntityType = "property_definition"
)

// AllEntityTypes lists every entity type the engine knows about, in the
// order bootstrap downloads them.
var AllEntityTypes = []EntityType{
	EntityTypeEvent,
	EntityTypeEventType,
	EntityTypeGeofence,
	EntityTypePropertyDefinition,
}

// Operation is the kind of change applied to an entity.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeEvent, EntityTypeEventType, EntityTypeGeofence, EntityTypePropertyDefinition:
		return true
	}
	return false
}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// batchable is the single declarative classification of which entity-creation
// mutations may travel on the bulk endpoint. Everything not listed here is
// pushed one-at-a-time through the idempotent individual endpoint.
var batchable = map[EntityType]bool{
	EntityTypeEvent:              true,
	EntityTypeEventType:          false,
	EntityTypeGeofence:           false,
	EntityTypePropertyDefinition: false,
}

// Batchable reports whether a create for this entity type is allowed on the
// bulk endpoint. Updates and deletes are never batchable.
func Batchable(t EntityType, op Operation) bool {
	return op == OperationCreate && batchable[t]
}

// SyncStatusValue tracks the local synchronization state of an entity row.
type SyncStatusValue string

const (
	SyncStatusPending SyncStatusValue = "pending"
	SyncStatusSynced  SyncStatusValue = "synced"
	SyncStatusFailed  SyncStatusValue = "failed"
)

// Entity is a user-owned record with a client-generated, time-ordered
// (UUIDv7) identifier. The client knows the canonical ID before any network
// round trip, which is what allows mutations to be queued ahead of the
// create call completing.
type Entity struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	EntityType EntityType      `json:"entity_type"`
	Payload    json.RawMessage `json:"payload"`
	SyncStatus SyncStatusValue `json:"sync_status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
