package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Profile is a local snapshot of the actor data the claim registry needs.
// Populated by the profile sync worker from the profile service.
type Profile struct {
	ID              string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID  string    `gorm:"uniqueIndex;not null" json:"external_user_id"` // the actor id carried in X-User-ID
	Handle          string    `gorm:"index;not null" json:"handle"`
	PayoutAddress   string    `gorm:"type:varchar(64)" json:"payout_address,omitempty"`
	MaxActiveClaims int       `gorm:"default:0" json:"max_active_claims"` // 0 means the configured default
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ClaimCeiling returns the profile's active-claim limit, falling back to def.
func (p *Profile) ClaimCeiling(def int) int {
	if p == nil || p.MaxActiveClaims <= 0 {
		return def
	}
	return p.MaxActiveClaims
}

// NormalizeHandle lowercases a handle and strips a leading "@".
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

func equalFoldHandle(a, b string) bool {
	return NormalizeHandle(a) == NormalizeHandle(b)
}
