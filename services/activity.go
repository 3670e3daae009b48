package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bounty-board/models"
	"bounty-board/repository"

	"gorm.io/datatypes"
)

type activityEntry struct {
	typ         models.ActivityType
	bounty      *models.Bounty
	actorID     string
	initiatedBy string
	claim       *models.Claim
	extra       map[string]any
}

// record appends one activity inside tx, with a snapshot of the bounty as it is now.
// The store writes the matching outbox row in the same transaction.
func record(ctx context.Context, tx repository.Store, at time.Time, e activityEntry) error {
	meta := map[string]any{
		"status":    e.bounty.EffectiveStatus(),
		"value":     e.bounty.Value.String(),
		"token":     e.bounty.Token,
		"issue_url": e.bounty.IssueURL,
		"network":   e.bounty.Network,
		"ledger_id": e.bounty.LedgerID,
	}
	if e.claim != nil {
		meta["pending"] = e.claim.Pending
	}
	for k, v := range e.extra {
		meta[k] = v
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode %s metadata: %w", e.typ, err)
	}

	a := &models.Activity{
		Type:        e.typ,
		BountyID:    e.bounty.ID,
		ActorID:     e.actorID,
		InitiatedBy: e.initiatedBy,
		Metadata:    datatypes.JSON(raw),
		CreatedAt:   at,
	}
	if e.claim != nil {
		id := e.claim.ID
		a.ClaimID = &id
	}
	if err := tx.AppendActivity(ctx, a); err != nil {
		return fmt.Errorf("record %s: %w", e.typ, err)
	}
	return nil
}
