package services

import "bounty-board/models"

// Actor is the authorization context of a caller: who they are and which capabilities
// they hold. Funder status is relative to a bounty.
type Actor struct {
	ID          string
	Handle      string
	IsStaff     bool
	IsModerator bool
}

// IsFunderOf reports whether the actor funded b.
func (a Actor) IsFunderOf(b *models.Bounty) bool {
	if b == nil || a.Handle == "" || b.FunderHandle == "" {
		return false
	}
	return models.NormalizeHandle(a.Handle) == models.NormalizeHandle(b.FunderHandle)
}

// CanModerate is true for staff and moderators.
func (a Actor) CanModerate() bool { return a.IsStaff || a.IsModerator }

func (a Actor) name() string {
	if a.Handle != "" {
		return a.Handle
	}
	return a.ID
}
