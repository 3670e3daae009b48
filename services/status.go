package services

import (
	"time"

	"bounty-board/models"
)

// ComputeStatus derives a bounty's status from its ledger projection and the local
// workflow facts. It ignores OverrideStatus; see models.Bounty.EffectiveStatus.
//
// Precedence, first match wins: ledger draft, cancelled (ledger dead or cancelled
// locally), an accepted fulfillment, any fulfillment, deadline passed, a granted
// claim, a reservation, otherwise open.
func ComputeStatus(b *models.Bounty, claims []models.Claim, fulfillments []models.Fulfillment, now time.Time) models.BountyStatus {
	switch {
	case b.LedgerStage == models.LedgerStageDraft:
		return models.BountyStatusDraft
	case b.LedgerStage == models.LedgerStageDead || b.CancelledAt != nil:
		return models.BountyStatusCancelled
	}

	if len(fulfillments) > 0 {
		for _, f := range fulfillments {
			if f.Accepted {
				return models.BountyStatusDone
			}
		}
		return models.BountyStatusSubmitted
	}

	if !b.Deadline.IsZero() && now.After(b.Deadline) {
		return models.BountyStatusExpired
	}
	for _, c := range claims {
		if c.Granted() {
			return models.BountyStatusStarted
		}
	}
	if b.ReservedFor != nil && *b.ReservedFor != "" {
		return models.BountyStatusReserved
	}
	return models.BountyStatusOpen
}
