package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"bounty-board/models"
	"bounty-board/repository"

	"github.com/google/uuid"
)

// ClaimRegistry creates and removes claims. It is the only writer of claim rows.
//
// Duplicate rows for one (bounty, actor) pair can appear when a request is retried
// concurrently; every read of a pair collapses them to the newest row first. Two actors
// racing for an exclusive bounty are resolved the same way: after a grant the registry
// re-reads the bounty's granted claims and demotes every grant but the oldest back to
// pending.
type ClaimRegistry struct {
	store     repository.Store
	lifecycle *Lifecycle
	documents DocumentVerifier
	settings  Settings
}

func NewClaimRegistry(store repository.Store, lifecycle *Lifecycle, documents DocumentVerifier, settings Settings) *ClaimRegistry {
	return &ClaimRegistry{store: store, lifecycle: lifecycle, documents: documents, settings: settings}
}

// ClaimRequest is what an actor sends when expressing interest.
type ClaimRequest struct {
	Message           string  `json:"message"`
	SignedDocumentKey *string `json:"signed_document_key"`
}

// ClaimResult reports the stored claim. Warning is set when the claim was accepted
// but not granted for a reason the actor should see.
type ClaimResult struct {
	Claim   *models.Claim `json:"claim"`
	Granted bool          `json:"granted"`
	Warning string        `json:"warning,omitempty"`
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

const (
	warnReservedForOther = "this bounty is reserved for another contributor; your request is pending approval"
	warnGrantedElsewhere = "another contributor was granted this bounty first; your request is pending approval"
	warnApprovalRequired = "the funder reviews requests for this bounty; your request is pending approval"
)

// collapsePair returns the newest claim for (bountyID, actorID), deleting any older
// duplicates. It returns nil when the actor holds no claim.
func collapsePair(ctx context.Context, tx repository.Store, bountyID, actorID string) (*models.Claim, error) {
	claims, err := tx.ListPairClaims(ctx, bountyID, actorID)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return nil, nil
	}
	if len(claims) > 1 {
		stale := make([]string, 0, len(claims)-1)
		for _, c := range claims[1:] {
			stale = append(stale, c.ID)
		}
		if err := tx.DeleteClaims(ctx, stale...); err != nil {
			return nil, fmt.Errorf("collapse duplicate claims: %w", err)
		}
		log.Printf("[CLAIMS] collapsed %d duplicate claim(s) for bounty=%s actor=%s", len(stale), bountyID, actorID)
	}
	newest := claims[0]
	return &newest, nil
}

// enforceExclusive keeps only the oldest grant on an exclusive bounty, demoting the
// rest to pending. It reports whether mine was demoted.
func enforceExclusive(ctx context.Context, tx repository.Store, b *models.Bounty, mine *models.Claim) (bool, error) {
	if !b.ProjectType.Exclusive() {
		return false, nil
	}
	claims, err := tx.ListBountyClaims(ctx, b.ID)
	if err != nil {
		return false, err
	}
	demoted := false
	kept := false
	for i := range claims {
		c := claims[i]
		if !c.Granted() {
			continue
		}
		if !kept {
			kept = true
			continue
		}
		c.Pending = true
		c.AcceptedAt = nil
		if err := tx.SaveClaim(ctx, &c); err != nil {
			return false, err
		}
		log.Printf("[CLAIMS] demoted concurrent grant %s on exclusive bounty %s", c.ID, b.ID)
		if mine != nil && c.ID == mine.ID {
			mine.Pending = true
			mine.AcceptedAt = nil
			demoted = true
		}
	}
	return demoted, nil
}

// RequestClaim records the actor's intent to work on a bounty. The claim is granted
// immediately in open mode unless the bounty is reserved for someone else or
// auto-approval is suspended; otherwise it waits for the funder.
func (r *ClaimRegistry) RequestClaim(ctx context.Context, actor Actor, bountyID string, req ClaimRequest) (*ClaimResult, error) {
	if actor.ID == "" {
		return nil, ErrNotAuthorized
	}
	if req.SignedDocumentKey != nil && strings.TrimSpace(*req.SignedDocumentKey) != "" {
		if err := r.verifyDocument(ctx, *req.SignedDocumentKey); err != nil {
			return nil, err
		}
	}

	var result *ClaimResult
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
		case models.BountyStatusOpen, models.BountyStatusReserved, models.BountyStatusStarted:
		default:
			return fmt.Errorf("%w: bounty is %s", ErrInvalidState, status)
		}

		existing, err := collapsePair(ctx, tx, b.ID, actor.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}

		claims, err := tx.ListBountyClaims(ctx, b.ID)
		if err != nil {
			return err
		}
		if b.ProjectType.Exclusive() && grantedCount(claims) > 0 {
			return ErrAlreadyFulfilled
		}

		ceiling := r.settings.DefaultMaxActiveClaims
		profile, err := tx.GetProfile(ctx, actor.ID)
		switch {
		case err == nil:
			ceiling = profile.ClaimCeiling(ceiling)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		active, err := tx.CountActiveClaims(ctx, actor.ID)
		if err != nil {
			return err
		}
		if active >= int64(ceiling) {
			return fmt.Errorf("%w: %d of %d", ErrTooManyActiveClaims, active, ceiling)
		}

		sanctions, err := tx.CountActorActivities(ctx, actor.ID, models.ActivitySlashedByStaff)
		if err != nil {
			return err
		}
		if sanctions > 0 {
			return ErrSanctioned
		}

		claim := &models.Claim{
			ID:                uuid.NewString(),
			BountyID:          b.ID,
			ActorID:           actor.ID,
			ActorHandle:       actor.Handle,
			Pending:           true,
			Message:           strings.TrimSpace(req.Message),
			SignedDocumentKey: req.SignedDocumentKey,
			CreatedAt:         now,
		}
		warning := ""
		switch {
		case b.IsReservedForOther(actor.Handle):
			warning = warnReservedForOther
		case b.ReservedFor != nil:
			claim.Pending = false
		case b.PermissionMode == models.PermissionApproval || b.SuspendAutoApproval:
			if b.SuspendAutoApproval && b.PermissionMode != models.PermissionApproval {
				warning = warnApprovalRequired
			}
		default:
			claim.Pending = false
		}
		if !claim.Pending {
			claim.AcceptedAt = &now
		}
		if err := tx.CreateClaim(ctx, claim); err != nil {
			return err
		}

		if claim.Granted() {
			demoted, err := enforceExclusive(ctx, tx, b, claim)
			if err != nil {
				return err
			}
			if demoted {
				warning = warnGrantedElsewhere
			}
		}

		typ := models.ActivityStartWork
		if claim.Pending {
			typ = models.ActivityWorkerApplied
		}
		if err := record(ctx, tx, now, activityEntry{
			typ: typ, bounty: b, actorID: actor.ID, initiatedBy: actor.ID, claim: claim,
			extra: map[string]any{"message": claim.Message},
		}); err != nil {
			return err
		}
		if err := r.lifecycle.settle(ctx, tx, b, now, false); err != nil {
			return err
		}

		result = &ClaimResult{Claim: claim, Granted: claim.Granted(), Warning: warning}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[CLAIMS] %s claimed bounty %s (granted=%v)", actor.name(), bountyID, result.Granted)
	return result, nil
}

func (r *ClaimRegistry) verifyDocument(ctx context.Context, key string) error {
	if r.documents == nil {
		return invalidInput("signed documents are not accepted")
	}
	ok, err := r.documents.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("verify signed document: %w", err)
	}
	if !ok {
		return invalidInput("signed document %q not found", key)
	}
	return nil
}

// ReleaseClaim withdraws the actor's own claim.
func (r *ClaimRegistry) ReleaseClaim(ctx context.Context, actor Actor, bountyID string) error {
	return r.store.WithTx(ctx, func(tx repository.Store) error {
		b, err := tx.GetBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		claim, err := collapsePair(ctx, tx, b.ID, actor.ID)
		if err != nil {
			return err
		}
		if claim == nil {
			return ErrNoActiveClaim
		}
		if err := tx.DeleteClaims(ctx, claim.ID); err != nil {
			return err
		}
		now := r.settings.now()
		if err := record(ctx, tx, now, activityEntry{
			typ: models.ActivityStopWork, bounty: b, actorID: actor.ID, initiatedBy: actor.ID, claim: claim,
		}); err != nil {
			return err
		}
		return r.lifecycle.settle(ctx, tx, b, now, false)
	})
}

// ForceRemoveClaim removes a worker on behalf of the funder, staff or a moderator.
// Only staff may remove with sanction, which blocks the worker from future claims.
func (r *ClaimRegistry) ForceRemoveClaim(ctx context.Context, initiator Actor, bountyID, workerID string, sanction bool) error {
	return r.store.WithTx(ctx, func(tx repository.Store) error {
		b, err := tx.GetBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		if !initiator.IsFunderOf(b) && !initiator.CanModerate() {
			return ErrNotAuthorized
		}
		if sanction && !initiator.IsStaff {
			return fmt.Errorf("%w: only staff can sanction", ErrNotAuthorized)
		}

		claim, err := collapsePair(ctx, tx, b.ID, workerID)
		if err != nil {
			return err
		}
		if claim == nil {
			return ErrNoActiveClaim
		}
		if err := tx.DeleteClaims(ctx, claim.ID); err != nil {
			return err
		}

		typ := models.ActivityRemovedByFunder
		switch {
		case initiator.CanModerate() && sanction:
			typ = models.ActivitySlashedByStaff
		case initiator.CanModerate():
			typ = models.ActivityRemovedByStaff
		}
		now := r.settings.now()
		if err := record(ctx, tx, now, activityEntry{
			typ: typ, bounty: b, actorID: workerID, initiatedBy: initiator.ID, claim: claim,
		}); err != nil {
			return err
		}
		if err := record(ctx, tx, now, activityEntry{
			typ: models.ActivityStopWork, bounty: b, actorID: workerID, initiatedBy: initiator.ID, claim: claim,
		}); err != nil {
			return err
		}
		log.Printf("[CLAIMS] %s removed %s from bounty %s (%s)", initiator.name(), workerID, b.ID, typ)
		return r.lifecycle.settle(ctx, tx, b, now, false)
	})
}

// ApproveOrReject settles a pending claim. Funder or staff only.
func (r *ClaimRegistry) ApproveOrReject(ctx context.Context, initiator Actor, bountyID, workerID string, decision Decision) (*models.Claim, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, invalidInput("decision must be approve or reject")
	}
	var out *models.Claim
	err := r.store.WithTx(ctx, func(tx repository.Store) error {
		b, err := tx.GetBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		if !initiator.IsFunderOf(b) && !initiator.IsStaff {
			return ErrNotAuthorized
		}
		claim, err := collapsePair(ctx, tx, b.ID, workerID)
		if err != nil {
			return err
		}
		if claim == nil || !claim.Pending {
			return ErrNoPendingClaim
		}
		now := r.settings.now()

		if decision == DecisionReject {
			if err := tx.DeleteClaims(ctx, claim.ID); err != nil {
				return err
			}
			if err := record(ctx, tx, now, activityEntry{
				typ: models.ActivityWorkerRejected, bounty: b, actorID: workerID, initiatedBy: initiator.ID, claim: claim,
			}); err != nil {
				return err
			}
			out = claim
			return r.lifecycle.settle(ctx, tx, b, now, false)
		}

		status, err := r.lifecycle.refresh(ctx, tx, b, now)
		if err != nil {
			return err
		}
		if status.Terminal() || status == models.BountyStatusExpired {
			return fmt.Errorf("%w: bounty is %s", ErrInvalidState, status)
		}
		if b.ProjectType.Exclusive() {
			claims, err := tx.ListBountyClaims(ctx, b.ID)
			if err != nil {
				return err
			}
			if grantedCount(claims) > 0 {
				return ErrAlreadyFulfilled
			}
		}
		claim.Pending = false
		claim.AcceptedAt = &now
		if err := tx.SaveClaim(ctx, claim); err != nil {
			return err
		}
		demoted, err := enforceExclusive(ctx, tx, b, claim)
		if err != nil {
			return err
		}
		if demoted {
			return ErrAlreadyFulfilled
		}
		if err := record(ctx, tx, now, activityEntry{
			typ: models.ActivityWorkerApproved, bounty: b, actorID: workerID, initiatedBy: initiator.ID, claim: claim,
		}); err != nil {
			return err
		}
		out = claim
		return r.lifecycle.settle(ctx, tx, b, now, false)
	})
	return out, err
}
