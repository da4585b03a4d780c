package models

import (
	"encoding/json"
	"time"
)

// SyncRun statuses
const (
	SyncStatusRunning   = "running"
	SyncStatusSucceeded = "succeeded"
	SyncStatusPartial   = "partial"
	SyncStatusFailed    = "failed"
	SyncStatusSkipped   = "skipped"
)

// SyncRun is the log entry written for every organization sync
type SyncRun struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"org_id"`
	Status     string          `json:"status"`
	DateFrom   time.Time       `json:"date_from"`
	DateTo     time.Time       `json:"date_to"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
