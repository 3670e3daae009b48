package models

import "time"

type PendingSyncStatus string

const (
	PendingSyncWaiting   PendingSyncStatus = "waiting"
	PendingSyncDone      PendingSyncStatus = "done"
	PendingSyncAbandoned PendingSyncStatus = "abandoned"
)

// PendingSync is a reconciliation request whose transaction was not mined yet.
// The pending sync worker re-polls it until it lands or runs out of attempts.
type PendingSync struct {
	ID            string            `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TxID          string            `gorm:"type:varchar(80);not null;uniqueIndex:idx_pending_sync_tx,priority:2" json:"tx_id"`
	Network       string            `gorm:"type:varchar(32);not null;uniqueIndex:idx_pending_sync_tx,priority:1" json:"network"`
	IssueURL      string            `gorm:"type:text;not null" json:"issue_url"`
	Status        PendingSyncStatus `gorm:"type:varchar(16);not null;default:'waiting';index" json:"status"`
	Attempts      int               `gorm:"not null;default:0" json:"attempts"`
	LastError     string            `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt time.Time         `gorm:"not null;index" json:"next_attempt_at"`
	ResultURL     string            `gorm:"type:text" json:"result_url,omitempty"`
	CreatedAt     time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}
