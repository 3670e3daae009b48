package models

import "time"

// Claim = one actor's intent (pending) or grant (not pending) to work on a bounty.
// The (bounty_id, actor_id) index is deliberately not unique: duplicate rows produced by
// retried requests are collapsed on read.
type Claim struct {
	ID                string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	BountyID          string     `gorm:"type:uuid;not null;index:idx_claim_pair,priority:1" json:"bounty_id"`
	ActorID           string     `gorm:"type:varchar(64);not null;index:idx_claim_pair,priority:2;index" json:"actor_id"`
	ActorHandle       string     `gorm:"type:varchar(64)" json:"actor_handle"`
	Pending           bool       `gorm:"not null;default:false" json:"pending"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	Message           string     `gorm:"type:text" json:"message,omitempty"`
	SignedDocumentKey *string    `gorm:"type:varchar(255)" json:"signed_document_key,omitempty"` // object key in the documents bucket
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime;index"`
}

// Granted reports whether the claim has been accepted.
func (c *Claim) Granted() bool { return !c.Pending }
