package models

import "time"

// SyncSummary is a point-in-time report of local sync health, surfaced to the
// UI alongside the observable engine state.
type SyncSummary struct {
	LastSync        *time.Time         `json:"last_sync,omitempty"`
	Pending         int                `json:"pending"`
	Counts          map[EntityType]int `json:"counts"`
	LocalCursor     int64              `json:"local_cursor"`
	LatestCursor    int64              `json:"latest_cursor"` // server-side max, 0 if unreachable
	Backlog         int64              `json:"backlog"`       // latest - local, never negative
	Status          string             `json:"status"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

const (
	SummaryStatusAllSynced         = "all_synced"
	SummaryStatusPendingChanges    = "pending_changes"
	SummaryStatusResyncRecommended = "resync_recommended"
)

// ComputeSummaryStatus derives the coarse status string and recommendations
// from the raw numbers.
func ComputeSummaryStatus(pending int, localCursor, latestCursor int64, total int) (string, []string) {
	var recs []string

	if localCursor == 0 && total > 0 {
		recs = append(recs, "Local cursor is unset but data exists. Consider a full resync.")
		return SummaryStatusResyncRecommended, recs
	}
	if pending > 0 {
		recs = append(recs, "Unsynced local changes are queued and will upload on the next sync.")
		return SummaryStatusPendingChanges, recs
	}
	if latestCursor > localCursor {
		recs = append(recs, "Remote changes are waiting to be downloaded.")
		return SummaryStatusPendingChanges, recs
	}
	return SummaryStatusAllSynced, nil
}
