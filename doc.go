// Package tracksync is an embeddable offline-first sync engine for a
// habit-tracking client. Local writes commit to SQLite immediately together
// with a durable mutation record; sync cycles later push queued mutations to
// the server and pull remote changes through a cursor-based change feed.
//
// The Engine is the entry point. Construct one with New, record local writes
// with QueueMutation, and call Sync whenever connectivity or the UI suggests
// it; concurrent Sync calls coalesce into the single in-flight cycle.
// Progress is observable through State and Subscribe.
//
// Failed cycles leave all data queued locally. Repeated failures open a
// circuit breaker with exponential backoff, so callers can invoke Sync
// liberally without hammering a degraded server.
package tracksync
