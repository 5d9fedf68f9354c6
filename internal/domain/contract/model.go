// Package contract keeps a local copy of the AMG family contracts and
// exposes it, together with a bounded live scan, as policy sources.
package contract

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// CachedContract is one row of amg_contracts.
type CachedContract struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	Data        json.RawMessage `json:"contract_data"`
	PeriodStart *time.Time      `json:"period_start"`
	PeriodEnd   *time.Time      `json:"period_end"`
	HasPayment  bool            `json:"has_payment"`
	IsActive    bool            `json:"is_active"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Sync run states.
const (
	SyncInProgress = "in_progress"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// SyncRun is one row of amg_sync_status.
type SyncRun struct {
	ID              uuid.UUID  `json:"id"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"sync_started_at"`
	CompletedAt     *time.Time `json:"sync_completed_at"`
	TotalContracts  int        `json:"total_contracts"`
	ContractsSynced int        `json:"contracts_synced"`
	PagesProcessed  int        `json:"pages_processed"`
	Error           *string    `json:"error"`
}

// SyncProgress is what a run has done so far.
type SyncProgress struct {
	TotalContracts  int
	ContractsSynced int
	PagesProcessed  int
}
