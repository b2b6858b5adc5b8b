package models

import "time"

// ConflictLog records a policy-resolved concurrent edit for user awareness.
type ConflictLog struct {
	ID              UUID      `db:"id" json:"id"`
	AccountID       UUID      `db:"account_id" json:"account_id"`
	LocalID         string    `db:"local_id" json:"local_id"`
	RemoteID        string    `db:"remote_id" json:"remote_id"`
	LocalTimestamp  Timestamp `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp Timestamp `db:"remote_timestamp" json:"remote_timestamp"`
	Resolution      string    `db:"resolution" json:"resolution"` // local_wins, remote_wins
	DetectedAt      int64     `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
