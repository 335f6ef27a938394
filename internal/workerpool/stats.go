package workerpool

import "time"

// Status values for WorkerStats.Status.
const (
	StatusActive    = "ACTIVE"
	StatusIdle      = "IDLE"
	StatusOffline   = "OFFLINE"
	StatusEphemeral = "EPHEMERAL"
)

// WorkerStats is the per-key statistics record returned by
// Pool.GetWorkerStats, composed per spec.md §4.1: (offline ← historical) ⊕
// (ephemeral) ⊕ (live active), later sources overwriting earlier ones, with
// "merge" meaning live counters are added on top of historical counters.
type WorkerStats struct {
	Key                 string    `json:"key"`
	Status              string    `json:"status"`
	RequestCount        int64     `json:"requestCount"`
	ErrorCount          int64     `json:"errorCount"`
	TotalResponseTimeMs int64     `json:"totalResponseTimeMs"`
	CreatedAt           time.Time `json:"createdAt"`
	LastUsedAt          time.Time `json:"lastUsedAt"`
}

// EphemeralStats tracks a session of ephemeral (ttl==0) worker activity
// under one key, per spec.md §4.1's Sec-Fetch-Dest session semantics.
type EphemeralStats struct {
	Key                 string
	IsDocumentRequest   bool
	LastRequestCount    int64
	LastResponseTimeMs  int64
	LastSeen            time.Time
}

// classifySecFetchDest implements the Sec-Fetch-Dest → session-kind mapping
// from spec.md §4.1: "document" starts a document session; "empty" or
// missing starts an API session; anything else is an asset request that
// folds into the current session.
func classifySecFetchDest(header string) (isDocument bool, isAsset bool) {
	switch header {
	case "document":
		return true, false
	case "empty", "":
		return false, false
	default:
		return false, true
	}
}
