package services

import (
	"context"
	"errors"
	"log"
	"time"

	"bounty-board/ledger"
	"bounty-board/models"
	"bounty-board/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ApplyProjection folds the ledger's view of a bounty into the local projection and
// reports whether anything changed. Applying the same projection twice leaves the
// bounty untouched the second time.
//
// Ledger-owned fields are overwritten. The deadline only ever moves later, so a local
// extension survives a stale ledger read. Workflow terms (permission mode, project type,
// reservation) are seeded from the ledger the first time the bounty is seen and owned
// locally afterwards.
func (l *Lifecycle) ApplyProjection(ctx context.Context, network string, p *ledger.Projection) (*models.Bounty, bool, error) {
	var (
		out     *models.Bounty
		changed bool
	)
	err := l.store.WithTx(ctx, func(tx repository.Store) error {
		now := l.settings.now()
		b, created, err := l.findOrCreate(ctx, tx, network, p, now)
		if err != nil {
			return err
		}

		dirty := applyLedgerFields(b, p)
		fulfilled, err := l.syncFulfillments(ctx, tx, b, p.Fulfillments, now)
		if err != nil {
			return err
		}

		before := b.Status
		if created || dirty {
			b.LastReconciledAt = &now
		}
		if err := l.settle(ctx, tx, b, now, created || dirty); err != nil {
			return err
		}

		changed = created || dirty || fulfilled || b.Status != before
		out = b
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		log.Printf("[RECONCILE] applied ledger bounty %s/%s -> %s (%s)", network, p.LedgerID, out.ID, out.Status)
	}
	return out, changed, nil
}

func (l *Lifecycle) findOrCreate(ctx context.Context, tx repository.Store, network string, p *ledger.Projection, now time.Time) (*models.Bounty, bool, error) {
	b, err := tx.GetBountyByLedgerRef(ctx, network, p.LedgerID)
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	b = &models.Bounty{
		ID:             uuid.NewString(),
		Network:        network,
		LedgerID:       p.LedgerID,
		Status:         models.BountyStatusDraft,
		PermissionMode: p.PermissionMode,
		ProjectType:    p.ProjectType,
	}
	if !b.PermissionMode.Valid() {
		b.PermissionMode = models.PermissionOpen
	}
	if b.ProjectType == "" {
		b.ProjectType = models.ProjectTraditional
	}
	if h := models.NormalizeHandle(p.ReservedFor); h != "" {
		b.ReservedFor = &h
	}
	applyLedgerFields(b, p)
	b.Status = ComputeStatus(b, nil, nil, now)

	created, err := tx.CreateBounty(ctx, b)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Lost a creation race; the winner's row is authoritative.
		b, err = tx.GetBountyByLedgerRef(ctx, network, p.LedgerID)
		return b, false, err
	}

	if err := record(ctx, tx, now, activityEntry{typ: models.ActivityNewBounty, bounty: b,
		extra: map[string]any{"funder": b.FunderHandle}}); err != nil {
		return nil, false, err
	}
	if b.ReservedFor != nil {
		if err := record(ctx, tx, now, activityEntry{typ: models.ActivityBountyReserved, bounty: b,
			extra: map[string]any{"reserved_for": *b.ReservedFor}}); err != nil {
			return nil, false, err
		}
	}
	return b, true, nil
}

// applyLedgerFields copies ledger-owned fields onto b, assigning only what differs.
func applyLedgerFields(b *models.Bounty, p *ledger.Projection) bool {
	changed := false
	setString := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setString(&b.IssueURL, p.IssueURL)
	setString(&b.Title, p.Title)
	setString(&b.FunderHandle, p.FunderHandle)
	setString(&b.FunderAddress, p.FunderAddress)
	setString(&b.Token, p.Token)

	stage := p.Stage
	if stage == "" {
		stage = models.LedgerStageActive
	}
	if b.LedgerStage != stage {
		b.LedgerStage = stage
		changed = true
	}
	if !b.Value.Equal(p.Value) {
		b.Value = p.Value
		changed = true
	}
	if p.Deadline.After(b.Deadline) {
		b.Deadline = p.Deadline.UTC()
		changed = true
	}
	return changed
}

// syncFulfillments upserts ledger fulfillments that are new or newly accepted.
func (l *Lifecycle) syncFulfillments(ctx context.Context, tx repository.Store, b *models.Bounty, incoming []ledger.FulfillmentProjection, now time.Time) (bool, error) {
	if len(incoming) == 0 {
		return false, nil
	}
	local, err := tx.ListFulfillments(ctx, b.ID)
	if err != nil {
		return false, err
	}
	byLedgerID := make(map[string]models.Fulfillment, len(local))
	for _, f := range local {
		if f.LedgerFulfillmentID != nil {
			byLedgerID[*f.LedgerFulfillmentID] = f
		}
	}

	changed := false
	for _, in := range incoming {
		existing, seen := byLedgerID[in.ID]
		if seen && (existing.Accepted || !in.Accepted) && existing.SubmitterAddress == in.SubmitterAddress {
			continue
		}

		ref := in.ID
		f := &models.Fulfillment{
			ID:                  uuid.NewString(),
			BountyID:            b.ID,
			LedgerFulfillmentID: &ref,
			SubmitterHandle:     in.SubmitterHandle,
			SubmitterAddress:    in.SubmitterAddress,
			Accepted:            in.Accepted,
			SubmittedAt:         in.SubmittedAt,
		}
		if len(in.Metadata) > 0 {
			f.Metadata = datatypes.JSON(in.Metadata)
		}
		if f.SubmittedAt.IsZero() {
			f.SubmittedAt = now
		}
		if in.Accepted {
			f.AcceptedAt = &now
		}
		if err := tx.UpsertFulfillment(ctx, f); err != nil {
			return false, err
		}
		changed = true

		if !seen {
			if err := record(ctx, tx, now, activityEntry{typ: models.ActivityWorkSubmitted, bounty: b,
				extra: map[string]any{"fulfillment_id": in.ID, "submitter": in.SubmitterHandle}}); err != nil {
				return false, err
			}
		}
	}
	return changed, nil
}
