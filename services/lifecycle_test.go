package services

import (
	"context"
	"testing"
	"time"

	"bounty-board/models"
)

func TestExtendDeadlineFunderOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)
	later := b.Deadline.Add(72 * time.Hour)

	for _, a := range []Actor{alice, staff, mod} {
		_, err := h.lifecycle.ExtendDeadline(ctx, a, b.ID, later)
		wantErr(t, err, ErrNotAuthorized)
	}
	if n := h.countEvents(t, b.ID, models.ActivityExtendExpiration); n != 0 {
		t.Fatalf("rejected extensions must not record events, got %d", n)
	}

	_, err := h.lifecycle.ExtendDeadline(ctx, funder, b.ID, b.Deadline.Add(-time.Hour))
	wantErr(t, err, ErrInvalidInput)

	got, err := h.lifecycle.ExtendDeadline(ctx, funder, b.ID, later)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !got.Deadline.Equal(later) {
		t.Fatalf("deadline = %v, want %v", got.Deadline, later)
	}
	if n := h.countEvents(t, b.ID, models.ActivityExtendExpiration); n != 1 {
		t.Fatalf("expected exactly one extend_expiration, got %d", n)
	}
}

func TestExtendDeadlineReopensExpiredBounty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	h.advance(8 * 24 * time.Hour)
	moved, err := h.lifecycle.SweepExpired(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if moved != 1 || h.bounty(t, b.ID).Status != models.BountyStatusExpired {
		t.Fatalf("expected the bounty to expire, moved=%d", moved)
	}
	if n := h.countEvents(t, b.ID, models.ActivityExpiredBounty); n != 1 {
		t.Fatalf("expected one expired_bounty, got %d", n)
	}

	got, err := h.lifecycle.ExtendDeadline(ctx, funder, b.ID, h.now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got.Status != models.BountyStatusOpen {
		t.Fatalf("expected open after extension, got %s", got.Status)
	}
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, nil)
	h.seed(t, func(b *models.Bounty) { b.Deadline = h.now().Add(30 * 24 * time.Hour) })

	h.advance(8 * 24 * time.Hour)
	if moved, err := h.lifecycle.SweepExpired(ctx, 0); err != nil || moved != 1 {
		t.Fatalf("first sweep: moved=%d err=%v", moved, err)
	}
	if moved, err := h.lifecycle.SweepExpired(ctx, 0); err != nil || moved != 0 {
		t.Fatalf("second sweep: moved=%d err=%v", moved, err)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	_, err := h.lifecycle.Cancel(ctx, alice, b.ID, "spam")
	wantErr(t, err, ErrNotAuthorized)
	_, err = h.lifecycle.Cancel(ctx, funder, b.ID, "  ")
	wantErr(t, err, ErrInvalidInput)

	got, err := h.lifecycle.Cancel(ctx, funder, b.ID, "issue fixed upstream")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.BountyStatusCancelled || got.CancellationReason != "issue fixed upstream" {
		t.Fatalf("unexpected bounty after cancel: %+v", got)
	}
	if n := h.countEvents(t, b.ID, models.ActivityKilledBounty); n != 1 {
		t.Fatalf("expected one killed_bounty, got %d", n)
	}

	_, err = h.lifecycle.Cancel(ctx, staff, b.ID, "again")
	wantErr(t, err, ErrInvalidState)
	_, err = h.claims.RequestClaim(ctx, alice, b.ID, ClaimRequest{})
	wantErr(t, err, ErrInvalidState)
}

func TestReleaseToPublic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	open := h.seed(t, nil)
	_, err := h.lifecycle.ReleaseToPublic(ctx, staff, open.ID)
	wantErr(t, err, ErrNotReserved)

	handle := "alice"
	b := h.seed(t, func(b *models.Bounty) {
		b.PermissionMode = models.PermissionReserved
		b.ReservedFor = &handle
	})
	_, err = h.lifecycle.ReleaseToPublic(ctx, bob, b.ID)
	wantErr(t, err, ErrNotAuthorized)

	got, err := h.lifecycle.ReleaseToPublic(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.ReservedFor != nil || got.PermissionMode != models.PermissionOpen || got.Status != models.BountyStatusOpen {
		t.Fatalf("unexpected bounty after release: %+v", got)
	}
	if n := h.countEvents(t, b.ID, models.ActivityReleasedToPublic); n != 1 {
		t.Fatalf("expected one bounty_released_to_public, got %d", n)
	}

	res, err := h.claims.RequestClaim(ctx, bob, b.ID, ClaimRequest{})
	if err != nil || !res.Granted {
		t.Fatalf("released bounty should grant bob: res=%+v err=%v", res, err)
	}
}

func TestOverrideStatusRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	_, err := h.lifecycle.SetOverrideStatus(ctx, mod, b.ID, models.BountyStatusCancelled)
	wantErr(t, err, ErrNotAuthorized)
	_, err = h.lifecycle.SetOverrideStatus(ctx, staff, b.ID, models.BountyStatus("bogus"))
	wantErr(t, err, ErrInvalidInput)

	got, err := h.lifecycle.SetOverrideStatus(ctx, staff, b.ID, models.BountyStatusCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if got.EffectiveStatus() != models.BountyStatusCancelled || got.Status != models.BountyStatusOpen {
		t.Fatalf("override should leave the computed status alone: %+v", got.View())
	}
	_, err = h.claims.RequestClaim(ctx, alice, b.ID, ClaimRequest{})
	wantErr(t, err, ErrInvalidState)

	got, err = h.lifecycle.SetOverrideStatus(ctx, staff, b.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.View().Overridden() || got.EffectiveStatus() != models.BountyStatusOpen {
		t.Fatalf("clearing the override should reveal open, got %+v", got.View())
	}
	if n := h.countEvents(t, b.ID, models.ActivityBountyChanged); n != 2 {
		t.Fatalf("expected two bounty_changed, got %d", n)
	}
}

func TestSetHiddenIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	_, err := h.lifecycle.SetHidden(ctx, funder, b.ID, true)
	wantErr(t, err, ErrNotAuthorized)

	for i := 0; i < 2; i++ {
		got, err := h.lifecycle.SetHidden(ctx, mod, b.ID, true)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Hidden {
			t.Fatal("expected hidden")
		}
	}
	if n := h.countEvents(t, b.ID, models.ActivityBountyHidden); n != 1 {
		t.Fatalf("expected one bounty_hidden, got %d", n)
	}
}

func TestSuspendAutoApprovalMakesClaimsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	if _, err := h.lifecycle.SetSuspendAutoApproval(ctx, staff, b.ID, true); err != nil {
		t.Fatal(err)
	}
	res, err := h.claims.RequestClaim(ctx, alice, b.ID, ClaimRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted || res.Warning == "" {
		t.Fatalf("expected pending claim with warning, got %+v", res)
	}
}

func TestSnooze(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	_, err := h.lifecycle.Snooze(ctx, funder, b.ID, 0)
	wantErr(t, err, ErrInvalidInput)
	_, err = h.lifecycle.Snooze(ctx, alice, b.ID, 3)
	wantErr(t, err, ErrNotAuthorized)

	got, err := h.lifecycle.Snooze(ctx, funder, b.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := h.now().Add(72 * time.Hour)
	if got.SnoozeUntil == nil || !got.SnoozeUntil.Equal(want) {
		t.Fatalf("snooze until = %v, want %v", got.SnoozeUntil, want)
	}
}

func TestUpdateTerms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, func(b *models.Bounty) { b.ProjectType = models.ProjectCooperative })

	for _, a := range []Actor{alice, bob} {
		if _, err := h.claims.RequestClaim(ctx, a, b.ID, ClaimRequest{}); err != nil {
			t.Fatal(err)
		}
	}

	traditional := models.ProjectTraditional
	_, err := h.lifecycle.UpdateTerms(ctx, funder, b.ID, TermsUpdate{ProjectType: &traditional})
	wantErr(t, err, ErrInvalidState)

	_, err = h.lifecycle.UpdateTerms(ctx, alice, b.ID, TermsUpdate{ProjectType: &traditional})
	wantErr(t, err, ErrNotAuthorized)

	approval := models.PermissionApproval
	reserve := "@Carol"
	got, err := h.lifecycle.UpdateTerms(ctx, funder, b.ID, TermsUpdate{PermissionMode: &approval, ReservedFor: &reserve})
	if err != nil {
		t.Fatalf("update terms: %v", err)
	}
	if got.PermissionMode != models.PermissionApproval || got.ReservedFor == nil || *got.ReservedFor != "carol" {
		t.Fatalf("unexpected terms: %+v", got)
	}
	if n := h.countEvents(t, b.ID, models.ActivityBountyReserved); n != 1 {
		t.Fatalf("expected one bounty_reserved, got %d", n)
	}

	before := len(h.events(t, b.ID))
	if _, err := h.lifecycle.UpdateTerms(ctx, funder, b.ID, TermsUpdate{PermissionMode: &approval}); err != nil {
		t.Fatal(err)
	}
	if after := len(h.events(t, b.ID)); after != before {
		t.Fatalf("a no-op update recorded %d event(s)", after-before)
	}
}

func TestRemarketLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	if _, err := h.lifecycle.SetRemarketReady(ctx, mod, b.ID, true); err != nil {
		t.Fatal(err)
	}
	got, err := h.lifecycle.Remarket(ctx, funder, b.ID)
	if err != nil {
		t.Fatalf("first remarket: %v", err)
	}
	if got.RemarketedCount != 1 || got.RemarketReady {
		t.Fatalf("unexpected remarket state: %+v", got)
	}

	_, err = h.lifecycle.Remarket(ctx, funder, b.ID)
	wantErr(t, err, ErrRemarketCooldown)

	h.advance(h.settings.RemarketCooldown)
	if _, err := h.lifecycle.Remarket(ctx, staff, b.ID); err != nil {
		t.Fatalf("second remarket: %v", err)
	}
	h.advance(h.settings.RemarketCooldown)
	_, err = h.lifecycle.Remarket(ctx, funder, b.ID)
	wantErr(t, err, ErrRemarketLimit)

	if n := h.countEvents(t, b.ID, models.ActivityBountyRemarketed); n != 2 {
		t.Fatalf("expected two bounty_remarketed, got %d", n)
	}
}

func TestActivityWritesOutboxRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.seed(t, nil)

	if _, err := h.lifecycle.SetHidden(ctx, staff, b.ID, true); err != nil {
		t.Fatal(err)
	}
	outbox := h.store.Outbox()
	if len(outbox) != 1 || outbox[0].Status != models.OutboxPending {
		t.Fatalf("expected one pending outbox row, got %+v", outbox)
	}
}
