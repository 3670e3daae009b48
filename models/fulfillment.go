package models

import (
	"time"

	"gorm.io/datatypes"
)

// Fulfillment is a piece of work submitted against a bounty. Accepted flips once.
type Fulfillment struct {
	ID                  string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	BountyID            string         `gorm:"type:uuid;not null;index;uniqueIndex:idx_fulfillment_ledger,priority:1" json:"bounty_id"`
	LedgerFulfillmentID *string        `gorm:"type:varchar(64);uniqueIndex:idx_fulfillment_ledger,priority:2" json:"ledger_fulfillment_id,omitempty"`
	SubmitterID         string         `gorm:"type:varchar(64);index" json:"submitter_id"`
	SubmitterHandle     string         `gorm:"type:varchar(64)" json:"submitter_handle"`
	SubmitterAddress    string         `gorm:"type:varchar(64)" json:"submitter_address,omitempty"`
	Metadata            datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	Accepted            bool           `gorm:"not null;default:false" json:"accepted"`
	AcceptedAt          *time.Time     `json:"accepted_at,omitempty"`
	SubmittedAt         time.Time      `json:"submitted_at"`

	Timestamps
}
