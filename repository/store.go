package repository

import (
	"context"
	"errors"
	"time"

	"bounty-board/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when an insert hits a unique index.
	ErrDuplicate = errors.New("repository: duplicate key")
)

// Store is the persistence boundary for bounties, claims, fulfillments, the activity log
// and the two work queues (outbox and pending syncs).
//
// Claim rows for one (bounty, actor) pair are not unique at the storage layer; callers
// collapse duplicates on read.
type Store interface {
	// WithTx runs fn inside a transaction. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetBounty(ctx context.Context, id string) (*models.Bounty, error)
	GetBountyByLedgerRef(ctx context.Context, network, ledgerID string) (*models.Bounty, error)
	// CreateBounty inserts b unless (network, ledger_id) already exists, in which case
	// created is false and b is left untouched.
	CreateBounty(ctx context.Context, b *models.Bounty) (created bool, err error)
	SaveBounty(ctx context.Context, b *models.Bounty) error
	// ListOverdueBounties returns in-progress bounties whose deadline is before now.
	ListOverdueBounties(ctx context.Context, now time.Time, limit int) ([]models.Bounty, error)

	// ListPairClaims returns every claim row for (bountyID, actorID), newest first.
	ListPairClaims(ctx context.Context, bountyID, actorID string) ([]models.Claim, error)
	// ListBountyClaims returns every claim on a bounty, oldest first.
	ListBountyClaims(ctx context.Context, bountyID string) ([]models.Claim, error)
	CreateClaim(ctx context.Context, c *models.Claim) error
	SaveClaim(ctx context.Context, c *models.Claim) error
	DeleteClaims(ctx context.Context, ids ...string) error
	// CountActiveClaims counts the actor's claims on bounties that are still in progress.
	CountActiveClaims(ctx context.Context, actorID string) (int64, error)

	ListFulfillments(ctx context.Context, bountyID string) ([]models.Fulfillment, error)
	CreateFulfillment(ctx context.Context, f *models.Fulfillment) error
	// UpsertFulfillment keys on (bounty_id, ledger_fulfillment_id). Accepted never
	// flips back to false.
	UpsertFulfillment(ctx context.Context, f *models.Fulfillment) error

	// AppendActivity inserts the activity and its outbox message atomically.
	AppendActivity(ctx context.Context, a *models.Activity) error
	// ListActivities returns a bounty's activities in creation order.
	ListActivities(ctx context.Context, bountyID string) ([]models.Activity, error)
	CountActorActivities(ctx context.Context, actorID string, typ models.ActivityType) (int64, error)

	GetProfile(ctx context.Context, actorID string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, p *models.Profile) error
	LastProfileUpdate(ctx context.Context) (time.Time, error)

	FetchPendingOutbox(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error)
	MarkOutboxDelivered(ctx context.Context, id string) error
	// MarkOutboxFailed records a failed attempt. When giveUp is set the message is
	// parked as failed, otherwise it is retried at next.
	MarkOutboxFailed(ctx context.Context, id, reason string, next time.Time, giveUp bool) error

	// EnqueuePendingSync stores p unless a row for (network, tx_id) exists.
	EnqueuePendingSync(ctx context.Context, p *models.PendingSync) error
	ListDuePendingSyncs(ctx context.Context, now time.Time, limit int) ([]models.PendingSync, error)
	SavePendingSync(ctx context.Context, p *models.PendingSync) error
}

// Models lists every table the store owns, in migration order.
func Models() []any {
	return []any{
		&models.Bounty{},
		&models.Claim{},
		&models.Fulfillment{},
		&models.Activity{},
		&models.OutboxMessage{},
		&models.Profile{},
		&models.PendingSync{},
	}
}
