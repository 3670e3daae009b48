package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityType enumerates the lifecycle and claim events recorded for a bounty.
type ActivityType string

const (
	ActivityNewBounty        ActivityType = "new_bounty"
	ActivityStartWork        ActivityType = "start_work"
	ActivityStopWork         ActivityType = "stop_work"
	ActivityWorkerApplied    ActivityType = "worker_applied"
	ActivityWorkerApproved   ActivityType = "worker_approved"
	ActivityWorkerRejected   ActivityType = "worker_rejected"
	ActivityRemovedByFunder  ActivityType = "bounty_removed_by_funder"
	ActivityRemovedByStaff   ActivityType = "bounty_removed_by_staff"
	ActivitySlashedByStaff   ActivityType = "bounty_removed_slashed_by_staff"
	ActivityWorkSubmitted    ActivityType = "work_submitted"
	ActivityWorkDone         ActivityType = "work_done"
	ActivityExtendExpiration ActivityType = "extend_expiration"
	ActivityExpiredBounty    ActivityType = "expired_bounty"
	ActivityKilledBounty     ActivityType = "killed_bounty"
	ActivityReleasedToPublic ActivityType = "bounty_released_to_public"
	ActivityBountyChanged    ActivityType = "bounty_changed"
	ActivityBountyReserved   ActivityType = "bounty_reserved"
	ActivityBountyRemarketed ActivityType = "bounty_remarketed"
	ActivityBountyHidden     ActivityType = "bounty_hidden"
	ActivityRemarketReady    ActivityType = "bounty_remarket_ready"
	ActivityBountySynced     ActivityType = "bounty_synced"
)

// Activity is an immutable audit record. Rows are only ever inserted.
type Activity struct {
	ID          string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Type        ActivityType   `gorm:"type:varchar(48);not null;index" json:"type"`
	BountyID    string         `gorm:"type:uuid;not null;index:idx_activity_bounty_time,priority:1" json:"bounty_id"`
	ActorID     string         `gorm:"type:varchar(64);index" json:"actor_id,omitempty"`
	InitiatedBy string         `gorm:"type:varchar(64)" json:"initiated_by,omitempty"`
	ClaimID     *string        `gorm:"type:uuid" json:"claim_id,omitempty"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_activity_bounty_time,priority:2" json:"created_at"`
}

// OutboxStatus tracks delivery of an activity to the notifier.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxMessage is written in the same transaction as its Activity and drained by the
// outbox worker into the notifier.
type OutboxMessage struct {
	ID          string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ActivityID  string         `gorm:"type:uuid;not null;uniqueIndex" json:"activity_id"`
	Topic       string         `gorm:"type:varchar(64);not null" json:"topic"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Status      OutboxStatus   `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	LastError   string         `gorm:"type:text" json:"last_error,omitempty"`
	NextAttempt time.Time      `gorm:"not null;index" json:"next_attempt"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}
