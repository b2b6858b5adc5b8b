package models

import "time"

// SyncLog is the persisted outcome of one account cycle.
type SyncLog struct {
	ID         UUID   `db:"id" json:"id"`
	AccountID  UUID   `db:"account_id" json:"account_id"`
	StartedAt  int64  `db:"started_at" json:"started_at"`
	FinishedAt int64  `db:"finished_at" json:"finished_at"`
	Outcome    string `db:"outcome" json:"outcome"` // success, partial, failed, declined, skipped
	Errors     int    `db:"errors" json:"errors"`
	// Summary is the JSON-encoded plan summary.
	Summary string `db:"summary" json:"summary"`
	Message string `db:"message" json:"message,omitempty"`
}

// TableName returns the table name for SyncLog.
func (SyncLog) TableName() string {
	return "sync_log"
}

// Duration returns how long the cycle ran.
func (s *SyncLog) Duration() time.Duration {
	return time.Duration(s.FinishedAt-s.StartedAt) * time.Second
}
