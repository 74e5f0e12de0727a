package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidUUID indicates the string is not a valid UUID format
	ErrInvalidUUID = errors.New("invalid UUID format")
	// ErrNotUUIDv7 indicates the UUID is not version 7
	ErrNotUUIDv7 = errors.New("UUID must be version 7")
	// ErrFutureTimestamp indicates the UUIDv7 timestamp is too far in the future
	ErrFutureTimestamp = errors.New("UUID timestamp is too far in the future")
)

// maxFutureSkew is the tolerance for UUIDv7 timestamp validation.
const maxFutureSkew = time.Minute

// NewEntityID generates a client-side canonical entity ID: a time-ordered
// UUIDv7, so IDs sort by creation time and are known before any network
// round trip.
func NewEntityID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4
		// rather than panicking inside an enqueue path.
		return uuid.NewString()
	}
	return id.String()
}

// ValidateUUIDv7 validates that a string is a valid UUIDv7 with an embedded
// timestamp within bounds. Returns nil if valid, or ErrInvalidUUID,
// ErrNotUUIDv7, or ErrFutureTimestamp.
func ValidateUUIDv7(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}

	if parsed.Version() != 7 {
		return fmt.Errorf("%w: got version %d", ErrNotUUIDv7, parsed.Version())
	}

	sec, nsec := parsed.Time().UnixTime()
	timestamp := time.Unix(sec, nsec)

	maxAllowed := time.Now().Add(maxFutureSkew)
	if timestamp.After(maxAllowed) {
		return fmt.Errorf("%w: %v is more than %v ahead",
			ErrFutureTimestamp, timestamp.Format(time.RFC3339), maxFutureSkew)
	}

	return nil
}

// ExtractUUIDv7Timestamp extracts the embedded timestamp from a UUIDv7.
// Returns zero time if parsing fails.
func ExtractUUIDv7Timestamp(id string) time.Time {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec)
}
