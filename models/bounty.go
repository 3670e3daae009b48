package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BountyStatus is the lifecycle state of a bounty.
type BountyStatus string

const (
	BountyStatusDraft     BountyStatus = "draft"
	BountyStatusOpen      BountyStatus = "open"
	BountyStatusReserved  BountyStatus = "reserved"
	BountyStatusStarted   BountyStatus = "started"
	BountyStatusSubmitted BountyStatus = "submitted"
	BountyStatusDone      BountyStatus = "done"
	BountyStatusExpired   BountyStatus = "expired"
	BountyStatusCancelled BountyStatus = "cancelled"
)

// BountyStatuses lists every valid status, in lifecycle order.
var BountyStatuses = []BountyStatus{
	BountyStatusDraft,
	BountyStatusOpen,
	BountyStatusReserved,
	BountyStatusStarted,
	BountyStatusSubmitted,
	BountyStatusDone,
	BountyStatusExpired,
	BountyStatusCancelled,
}

// WorkInProgressStatuses are the statuses under which a claim counts toward an actor's
// active-claim ceiling.
var WorkInProgressStatuses = []BountyStatus{
	BountyStatusOpen,
	BountyStatusReserved,
	BountyStatusStarted,
	BountyStatusSubmitted,
}

// Valid reports whether s is one of the known statuses.
func (s BountyStatus) Valid() bool {
	for _, known := range BountyStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further work transitions are possible.
// Expired is not terminal: a deadline extension reopens it.
func (s BountyStatus) Terminal() bool {
	return s == BountyStatusDone || s == BountyStatusCancelled
}

// InProgress reports whether s is one of WorkInProgressStatuses.
func (s BountyStatus) InProgress() bool {
	for _, st := range WorkInProgressStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// PermissionMode controls how claims are granted.
type PermissionMode string

const (
	PermissionOpen     PermissionMode = "open"
	PermissionApproval PermissionMode = "approval"
	PermissionReserved PermissionMode = "reserved"
)

// Valid reports whether m is a known permission mode.
func (m PermissionMode) Valid() bool {
	return m == PermissionOpen || m == PermissionApproval || m == PermissionReserved
}

// ProjectType distinguishes exclusive bounties from team work.
type ProjectType string

const (
	ProjectTraditional ProjectType = "traditional" // one worker at a time
	ProjectCooperative ProjectType = "cooperative"
	ProjectContest     ProjectType = "contest"
)

// Exclusive reports whether at most one granted claim is allowed.
func (p ProjectType) Exclusive() bool {
	return p == "" || p == ProjectTraditional
}

// LedgerStage is the bounty stage as reported by the escrow contract.
type LedgerStage string

const (
	LedgerStageDraft  LedgerStage = "draft"
	LedgerStageActive LedgerStage = "active"
	LedgerStageDead   LedgerStage = "dead"
)

// Bounty is the local projection of one on-chain escrow plus the local workflow facts
// layered on top of it. Status holds the computed status; OverrideStatus, when set,
// takes precedence for display and gating without replacing it.
type Bounty struct {
	ID       string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Network  string `gorm:"type:varchar(32);not null;uniqueIndex:idx_bounty_ledger_ref,priority:1" json:"network"`
	LedgerID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_bounty_ledger_ref,priority:2" json:"ledger_id"`
	IssueURL string `gorm:"type:text;not null;index" json:"issue_url"`
	Title    string `json:"title"`

	Status         BountyStatus   `gorm:"type:varchar(16);not null;default:'draft';index" json:"status"`
	LedgerStage    LedgerStage    `gorm:"type:varchar(16);not null;default:'draft'" json:"ledger_stage"`
	PermissionMode PermissionMode `gorm:"type:varchar(16);not null;default:'open'" json:"permission_mode"`
	ProjectType    ProjectType    `gorm:"type:varchar(16);not null;default:'traditional'" json:"project_type"`
	ReservedFor    *string        `gorm:"type:varchar(64)" json:"reserved_for,omitempty"` // actor handle

	FunderHandle  string          `gorm:"type:varchar(64);index" json:"funder_handle"`
	FunderAddress string          `gorm:"type:varchar(64)" json:"funder_address"`
	Value         decimal.Decimal `gorm:"type:numeric(78,18);not null;default:0" json:"value"`
	Token         string          `gorm:"type:varchar(32)" json:"token"`
	Deadline      time.Time       `gorm:"not null;index" json:"deadline"`

	OverrideStatus      *BountyStatus `gorm:"type:varchar(16)" json:"override_status,omitempty"`
	Hidden              bool          `gorm:"default:false" json:"hidden"`
	SuspendAutoApproval bool          `gorm:"default:false" json:"suspend_auto_approval"`
	RemarketReady       bool          `gorm:"default:false" json:"remarket_ready"`
	SnoozeUntil         *time.Time    `json:"snooze_until,omitempty"`
	RemarketedCount     int           `gorm:"default:0" json:"remarketed_count"`
	LastRemarketedAt    *time.Time    `json:"last_remarketed_at,omitempty"`
	CancelledAt         *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason  string        `gorm:"type:text" json:"cancellation_reason,omitempty"`
	LastReconciledAt    *time.Time    `json:"last_reconciled_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// View returns the computed status together with any administrative override.
func (b *Bounty) View() StatusView {
	v := StatusView{Computed: b.Status}
	if b.OverrideStatus != nil && *b.OverrideStatus != "" {
		v.Override = *b.OverrideStatus
	}
	return v
}

// EffectiveStatus is the status every gate and every reader should use.
func (b *Bounty) EffectiveStatus() BountyStatus {
	return b.View().Effective()
}

// IsReservedForOther reports whether the bounty is reserved for someone other than handle.
func (b *Bounty) IsReservedForOther(handle string) bool {
	return b.ReservedFor != nil && *b.ReservedFor != "" && !equalFoldHandle(*b.ReservedFor, handle)
}

// StatusView is either a computed status or an override patched over it. Clearing the
// override reveals the computed status unchanged.
type StatusView struct {
	Computed BountyStatus `json:"computed"`
	Override BountyStatus `json:"override,omitempty"`
}

// Overridden reports whether an administrative override is in effect.
func (v StatusView) Overridden() bool { return v.Override != "" }

// Effective resolves the view to one status.
func (v StatusView) Effective() BountyStatus {
	if v.Overridden() {
		return v.Override
	}
	return v.Computed
}
