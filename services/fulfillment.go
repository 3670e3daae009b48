package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bounty-board/models"
	"bounty-board/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FulfillmentSubmission is the work an actor hands in.
type FulfillmentSubmission struct {
	PayoutAddress string          `json:"payout_address"`
	Metadata      json.RawMessage `json:"metadata"`
}

// SubmitFulfillment records submitted work. Only an actor holding a granted claim may
// submit; the bounty moves to submitted.
func (r *ClaimRegistry) SubmitFulfillment(ctx context.Context, actor Actor, bountyID string, sub FulfillmentSubmission) (*models.Fulfillment, error) {
	if len(sub.Metadata) > 0 && !json.Valid(sub.Metadata) {
		return nil, invalidInput("metadata must be valid JSON")
	}
	var out *models.Fulfillment
	err := r.store.WithTx(ctx, func(tx repository.Store) error {
		b, err := tx.GetBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		now := r.settings.now()
		status, err := r.lifecycle.refresh(ctx, tx, b, now)
		if err != nil {
			return err
		}
		switch status {
		case models.BountyStatusStarted, models.BountyStatusSubmitted:
		default:
			return fmt.Errorf("%w: bounty is %s", ErrInvalidState, status)
		}

		claim, err := collapsePair(ctx, tx, b.ID, actor.ID)
		if err != nil {
			return err
		}
		if claim == nil || claim.Pending {
			return ErrNoActiveClaim
		}

		f := &models.Fulfillment{
			ID:               uuid.NewString(),
			BountyID:         b.ID,
			SubmitterID:      actor.ID,
			SubmitterHandle:  actor.Handle,
			SubmitterAddress: strings.TrimSpace(sub.PayoutAddress),
			SubmittedAt:      now,
		}
		if len(sub.Metadata) > 0 {
			f.Metadata = datatypes.JSON(sub.Metadata)
		}
		if err := tx.CreateFulfillment(ctx, f); err != nil {
			return err
		}
		if err := record(ctx, tx, now, activityEntry{
			typ: models.ActivityWorkSubmitted, bounty: b, actorID: actor.ID, initiatedBy: actor.ID, claim: claim,
			extra: map[string]any{"fulfillment_id": f.ID},
		}); err != nil {
			return err
		}
		out = f
		return r.lifecycle.settle(ctx, tx, b, now, false)
	})
	return out, err
}
