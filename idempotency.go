package tracksync

import "github.com/google/uuid"

// newIdempotencyKey mints the stable key assigned to a mutation at enqueue
// time. The key is persisted with the mutation and reused verbatim on every
// retry of that exact mutation; the server treats a repeated key as an
// idempotent replay and returns the original result. This is what makes a
// retry after network ambiguity (request sent, response lost) safe.
//
// Create-batch mutations do not carry a key: the bulk endpoint dedupes on
// the client-generated entity IDs instead.
func newIdempotencyKey() string {
	return uuid.NewString()
}
