package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bounty-board/models"
	"bounty-board/repository"
)

// Lifecycle is the bounty state machine. It is the only writer of Bounty.Status and
// decides the legality of every administrative mutation.
type Lifecycle struct {
	store    repository.Store
	settings Settings
}

func NewLifecycle(store repository.Store, settings Settings) *Lifecycle {
	return &Lifecycle{store: store, settings: settings}
}

// mutate loads the bounty inside a transaction and hands it to fn. When fn reports a
// change the status is recomputed and the bounty saved; otherwise nothing is written.
func (l *Lifecycle) mutate(ctx context.Context, bountyID string, fn func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error)) (*models.Bounty, error) {
	var out *models.Bounty
	err := l.store.WithTx(ctx, func(tx repository.Store) error {
		b, err := tx.GetBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		now := l.settings.now()
		changed, err := fn(tx, b, now)
		if err != nil {
			return err
		}
		if changed {
			if err := l.settle(ctx, tx, b, now, true); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	return out, err
}

// settle recomputes b's status inside tx, records transition events, and saves b when
// the status moved or dirty is set.
func (l *Lifecycle) settle(ctx context.Context, tx repository.Store, b *models.Bounty, now time.Time, dirty bool) error {
	claims, err := tx.ListBountyClaims(ctx, b.ID)
	if err != nil {
		return err
	}
	fulfillments, err := tx.ListFulfillments(ctx, b.ID)
	if err != nil {
		return err
	}

	next := ComputeStatus(b, claims, fulfillments, now)
	prev := b.Status
	if next == prev && !dirty {
		return nil
	}
	b.Status = next
	if err := tx.SaveBounty(ctx, b); err != nil {
		return err
	}
	if next == prev {
		return nil
	}

	log.Printf("[LIFECYCLE] bounty %s: %s -> %s", b.ID, prev, next)
	switch next {
	case models.BountyStatusExpired:
		return record(ctx, tx, now, activityEntry{typ: models.ActivityExpiredBounty, bounty: b,
			extra: map[string]any{"previous_status": prev}})
	case models.BountyStatusDone:
		return record(ctx, tx, now, activityEntry{typ: models.ActivityWorkDone, bounty: b,
			extra: map[string]any{"previous_status": prev}})
	}
	return nil
}

// refresh settles b against the clock and returns the status gates should read, so a
// deadline the sweep has not reached yet still closes the bounty.
func (l *Lifecycle) refresh(ctx context.Context, tx repository.Store, b *models.Bounty, now time.Time) (models.BountyStatus, error) {
	if err := l.settle(ctx, tx, b, now, false); err != nil {
		return "", err
	}
	return b.EffectiveStatus(), nil
}

// ExtendDeadline moves the deadline later. Only the funder may do it; an expired
// bounty returns to open or started.
func (l *Lifecycle) ExtendDeadline(ctx context.Context, actor Actor, bountyID string, deadline time.Time) (*models.Bounty, error) {
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.IsFunderOf(b) {
			return false, ErrNotAuthorized
		}
		if b.EffectiveStatus().Terminal() {
			return false, fmt.Errorf("%w: bounty is %s", ErrInvalidState, b.EffectiveStatus())
		}
		if !deadline.After(b.Deadline) || !deadline.After(now) {
			return false, invalidInput("new deadline must be later than the current one and in the future")
		}
		prev := b.Deadline
		b.Deadline = deadline.UTC()
		return true, record(ctx, tx, now, activityEntry{
			typ: models.ActivityExtendExpiration, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"previous_deadline": prev, "new_deadline": b.Deadline},
		})
	})
}

// Cancel kills a bounty. Funder or staff only; irreversible.
func (l *Lifecycle) Cancel(ctx context.Context, actor Actor, bountyID, reason string) (*models.Bounty, error) {
	reason = strings.TrimSpace(reason)
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.IsFunderOf(b) && !actor.IsStaff {
			return false, ErrNotAuthorized
		}
		if b.EffectiveStatus().Terminal() || b.CancelledAt != nil {
			return false, fmt.Errorf("%w: bounty is %s", ErrInvalidState, b.EffectiveStatus())
		}
		if reason == "" {
			return false, invalidInput("cancellation reason is required")
		}
		b.CancelledAt = &now
		b.CancellationReason = reason
		return true, record(ctx, tx, now, activityEntry{
			typ: models.ActivityKilledBounty, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"reason": reason},
		})
	})
}

// ReleaseToPublic drops a reservation so anyone may claim. Staff or the reserved actor.
func (l *Lifecycle) ReleaseToPublic(ctx context.Context, actor Actor, bountyID string) (*models.Bounty, error) {
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if b.EffectiveStatus() != models.BountyStatusReserved {
			return false, ErrNotReserved
		}
		if !actor.IsStaff && (b.ReservedFor == nil || b.IsReservedForOther(actor.Handle)) {
			return false, ErrNotAuthorized
		}
		released := ""
		if b.ReservedFor != nil {
			released = *b.ReservedFor
		}
		b.ReservedFor = nil
		if b.PermissionMode == models.PermissionReserved {
			b.PermissionMode = models.PermissionOpen
		}
		return true, record(ctx, tx, now, activityEntry{
			typ: models.ActivityReleasedToPublic, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"released_from": released},
		})
	})
}

// SetOverrideStatus patches a staff override over the computed status; the empty status
// clears it.
func (l *Lifecycle) SetOverrideStatus(ctx context.Context, actor Actor, bountyID string, status models.BountyStatus) (*models.Bounty, error) {
	if status != "" && !status.Valid() {
		return nil, invalidInput("unknown status %q", status)
	}
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.IsStaff {
			return false, ErrNotAuthorized
		}
		if b.View().Override == status {
			return false, nil
		}
		if status == "" {
			b.OverrideStatus = nil
		} else {
			s := status
			b.OverrideStatus = &s
		}
		return true, record(ctx, tx, now, activityEntry{
			typ: models.ActivityBountyChanged, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"override_status": status},
		})
	})
}

// SetHidden hides or unhides a bounty from listings. Staff or moderators.
func (l *Lifecycle) SetHidden(ctx context.Context, actor Actor, bountyID string, hidden bool) (*models.Bounty, error) {
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.CanModerate() {
			return false, ErrNotAuthorized
		}
		if b.Hidden == hidden {
			return false, nil
		}
		b.Hidden = hidden
		return true, record(ctx, tx, now, activityEntry{
			typ: models.ActivityBountyHidden, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"hidden": hidden},
		})
	})
}

func (l *Lifecycle) SetRemarketReady(ctx context.Context, actor Actor, bountyID string, ready bool) (*models.Bounty, error) {
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.CanModerate() {
			return false, ErrNotAuthorized
		}
		if b.RemarketReady == ready {
			return false, nil
		}
		b.RemarketReady = ready
		return true, record(ctx, tx, now, activityEntry{
			typ: models.ActivityRemarketReady, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"remarket_ready": ready},
		})
	})
}

func (l *Lifecycle) SetSuspendAutoApproval(ctx context.Context, actor Actor, bountyID string, suspend bool) (*models.Bounty, error) {
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.CanModerate() {
			return false, ErrNotAuthorized
		}
		if b.SuspendAutoApproval == suspend {
			return false, nil
		}
		b.SuspendAutoApproval = suspend
		return true, nil
	})
}

// Snooze silences reminders for days days. Funder, staff or moderators.
func (l *Lifecycle) Snooze(ctx context.Context, actor Actor, bountyID string, days int) (*models.Bounty, error) {
	if days < 1 || days > 365 {
		return nil, invalidInput("snooze days must be between 1 and 365")
	}
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.IsFunderOf(b) && !actor.CanModerate() {
			return false, ErrNotAuthorized
		}
		until := now.Add(time.Duration(days) * 24 * time.Hour)
		b.SnoozeUntil = &until
		return true, nil
	})
}

// TermsUpdate lists the workflow terms a funder may change after funding. Nil fields are
// left alone; an empty ReservedFor clears the reservation.
type TermsUpdate struct {
	PermissionMode      *models.PermissionMode `json:"permission_mode"`
	ProjectType         *models.ProjectType    `json:"project_type"`
	ReservedFor         *string                `json:"reserved_for"`
	SuspendAutoApproval *bool                  `json:"suspend_auto_approval"`
}

// UpdateTerms applies a funder or staff change to the workflow terms.
func (l *Lifecycle) UpdateTerms(ctx context.Context, actor Actor, bountyID string, u TermsUpdate) (*models.Bounty, error) {
	if u.PermissionMode != nil && !u.PermissionMode.Valid() {
		return nil, invalidInput("unknown permission mode %q", *u.PermissionMode)
	}
	if u.ProjectType != nil {
		switch *u.ProjectType {
		case models.ProjectTraditional, models.ProjectCooperative, models.ProjectContest:
		default:
			return nil, invalidInput("unknown project type %q", *u.ProjectType)
		}
	}
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.IsFunderOf(b) && !actor.IsStaff {
			return false, ErrNotAuthorized
		}
		switch b.EffectiveStatus() {
		case models.BountyStatusOpen, models.BountyStatusReserved, models.BountyStatusStarted, models.BountyStatusExpired:
		default:
			return false, fmt.Errorf("%w: terms are frozen once a bounty is %s", ErrInvalidState, b.EffectiveStatus())
		}

		changes := map[string]any{}
		if u.PermissionMode != nil && *u.PermissionMode != b.PermissionMode {
			b.PermissionMode = *u.PermissionMode
			changes["permission_mode"] = b.PermissionMode
		}
		if u.ProjectType != nil && *u.ProjectType != b.ProjectType {
			if u.ProjectType.Exclusive() {
				claims, err := tx.ListBountyClaims(ctx, b.ID)
				if err != nil {
					return false, err
				}
				if grantedCount(claims) > 1 {
					return false, fmt.Errorf("%w: more than one worker already granted", ErrInvalidState)
				}
			}
			b.ProjectType = *u.ProjectType
			changes["project_type"] = b.ProjectType
		}
		newReservation := ""
		if u.ReservedFor != nil {
			handle := models.NormalizeHandle(*u.ReservedFor)
			current := ""
			if b.ReservedFor != nil {
				current = *b.ReservedFor
			}
			if handle != current {
				if handle == "" {
					b.ReservedFor = nil
				} else {
					b.ReservedFor = &handle
					newReservation = handle
				}
				changes["reserved_for"] = handle
			}
		}
		if u.SuspendAutoApproval != nil && *u.SuspendAutoApproval != b.SuspendAutoApproval {
			b.SuspendAutoApproval = *u.SuspendAutoApproval
			changes["suspend_auto_approval"] = b.SuspendAutoApproval
		}
		if len(changes) == 0 {
			return false, nil
		}

		if err := record(ctx, tx, now, activityEntry{
			typ: models.ActivityBountyChanged, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"changes": changes},
		}); err != nil {
			return false, err
		}
		if newReservation != "" {
			if err := record(ctx, tx, now, activityEntry{
				typ: models.ActivityBountyReserved, bounty: b, initiatedBy: actor.ID,
				extra: map[string]any{"reserved_for": newReservation},
			}); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// Remarket re-announces an open bounty, bounded by a count and a cooldown.
func (l *Lifecycle) Remarket(ctx context.Context, actor Actor, bountyID string) (*models.Bounty, error) {
	return l.mutate(ctx, bountyID, func(tx repository.Store, b *models.Bounty, now time.Time) (bool, error) {
		if !actor.IsFunderOf(b) && !actor.IsStaff {
			return false, ErrNotAuthorized
		}
		if b.EffectiveStatus() != models.BountyStatusOpen {
			return false, fmt.Errorf("%w: only open bounties can be remarketed", ErrInvalidState)
		}
		if b.RemarketedCount >= l.settings.MaxRemarkets {
			return false, ErrRemarketLimit
		}
		if b.LastRemarketedAt != nil && now.Sub(*b.LastRemarketedAt) < l.settings.RemarketCooldown {
			return false, ErrRemarketCooldown
		}
		b.RemarketedCount++
		b.LastRemarketedAt = &now
		b.RemarketReady = false
		return true, record(ctx, tx, now, activityEntry{
			typ: models.ActivityBountyRemarketed, bounty: b, actorID: actor.ID, initiatedBy: actor.ID,
			extra: map[string]any{"remarketed_count": b.RemarketedCount},
		})
	})
}

// SweepExpired materialises the expired status for in-progress bounties whose deadline
// has passed. It returns how many bounties moved.
func (l *Lifecycle) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := l.settings.now()
	overdue, err := l.store.ListOverdueBounties(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, candidate := range overdue {
		err := l.store.WithTx(ctx, func(tx repository.Store) error {
			b, err := tx.GetBounty(ctx, candidate.ID)
			if err != nil {
				return err
			}
			before := b.Status
			if err := l.settle(ctx, tx, b, now, false); err != nil {
				return err
			}
			if b.Status != before {
				moved++
			}
			return nil
		})
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return moved, fmt.Errorf("expire bounty %s: %w", candidate.ID, err)
		}
	}
	return moved, nil
}

func grantedCount(claims []models.Claim) int {
	n := 0
	for _, c := range claims {
		if c.Granted() {
			n++
		}
	}
	return n
}
