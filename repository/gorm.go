package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bounty-board/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityTopic is the outbox topic every activity is published under.
const ActivityTopic = "bounty.activity"

// GormStore implements Store on postgres through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates every table the store owns.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(Models()...)
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// translate maps driver errors onto the package sentinels.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *GormStore) GetBounty(ctx context.Context, id string) (*models.Bounty, error) {
	var b models.Bounty
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err, "get bounty")
	}
	return &b, nil
}

func (s *GormStore) GetBountyByLedgerRef(ctx context.Context, network, ledgerID string) (*models.Bounty, error) {
	var b models.Bounty
	err := s.db.WithContext(ctx).
		Where("network = ? AND ledger_id = ?", network, ledgerID).
		First(&b).Error
	if err != nil {
		return nil, translate(err, "get bounty by ledger ref")
	}
	return &b, nil
}

func (s *GormStore) CreateBounty(ctx context.Context, b *models.Bounty) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "network"}, {Name: "ledger_id"}},
		DoNothing: true,
	}).Create(b)
	if res.Error != nil {
		return false, translate(res.Error, "create bounty")
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) SaveBounty(ctx context.Context, b *models.Bounty) error {
	return translate(s.db.WithContext(ctx).Save(b).Error, "save bounty")
}

// limited applies limit when positive; zero or less means no limit, as in MemoryStore.
func limited(limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if limit > 0 {
			return db.Limit(limit)
		}
		return db
	}
}

func (s *GormStore) ListOverdueBounties(ctx context.Context, now time.Time, limit int) ([]models.Bounty, error) {
	var out []models.Bounty
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(models.BountyStatusOpen),
			string(models.BountyStatusReserved),
			string(models.BountyStatusStarted),
		}).
		Where("deadline < ? AND cancelled_at IS NULL", now).
		Order("deadline ASC").
		Scopes(limited(limit)).
		Find(&out).Error
	return out, translate(err, "list overdue bounties")
}

func (s *GormStore) ListPairClaims(ctx context.Context, bountyID, actorID string) ([]models.Claim, error) {
	var out []models.Claim
	err := s.db.WithContext(ctx).
		Where("bounty_id = ? AND actor_id = ?", bountyID, actorID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, translate(err, "list pair claims")
}

func (s *GormStore) ListBountyClaims(ctx context.Context, bountyID string) ([]models.Claim, error) {
	var out []models.Claim
	err := s.db.WithContext(ctx).
		Where("bounty_id = ?", bountyID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, translate(err, "list bounty claims")
}

func (s *GormStore) CreateClaim(ctx context.Context, c *models.Claim) error {
	return translate(s.db.WithContext(ctx).Create(c).Error, "create claim")
}

func (s *GormStore) SaveClaim(ctx context.Context, c *models.Claim) error {
	return translate(s.db.WithContext(ctx).Save(c).Error, "save claim")
}

func (s *GormStore) DeleteClaims(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Claim{}).Error, "delete claims")
}

func (s *GormStore) CountActiveClaims(ctx context.Context, actorID string) (int64, error) {
	statuses := make([]string, 0, len(models.WorkInProgressStatuses))
	for _, st := range models.WorkInProgressStatuses {
		statuses = append(statuses, string(st))
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Claim{}).
		Joins("JOIN bounties ON bounties.id = claims.bounty_id").
		Where("claims.actor_id = ?", actorID).
		Where("COALESCE(NULLIF(bounties.override_status, ''), bounties.status) IN ?", statuses).
		Count(&n).Error
	return n, translate(err, "count active claims")
}

func (s *GormStore) ListFulfillments(ctx context.Context, bountyID string) ([]models.Fulfillment, error) {
	var out []models.Fulfillment
	err := s.db.WithContext(ctx).
		Where("bounty_id = ?", bountyID).
		Order("submitted_at ASC").
		Find(&out).Error
	return out, translate(err, "list fulfillments")
}

func (s *GormStore) CreateFulfillment(ctx context.Context, f *models.Fulfillment) error {
	return translate(s.db.WithContext(ctx).Create(f).Error, "create fulfillment")
}

func (s *GormStore) UpsertFulfillment(ctx context.Context, f *models.Fulfillment) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "bounty_id"}, {Name: "ledger_fulfillment_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"accepted":          gorm.Expr("fulfillments.accepted OR excluded.accepted"),
			"accepted_at":       gorm.Expr("COALESCE(fulfillments.accepted_at, excluded.accepted_at)"),
			"metadata":          gorm.Expr("excluded.metadata"),
			"submitter_address": gorm.Expr("excluded.submitter_address"),
			"updated_at":        gorm.Expr("excluded.updated_at"),
		}),
	}).Create(f).Error
	return translate(err, "upsert fulfillment")
}

func (s *GormStore) AppendActivity(ctx context.Context, a *models.Activity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		if err := tx.Create(a).Error; err != nil {
			return translate(err, "append activity")
		}
		msg, err := outboxFor(a)
		if err != nil {
			return err
		}
		return translate(tx.Create(msg).Error, "enqueue outbox")
	})
}

// outboxFor builds the notifier envelope for an activity.
func outboxFor(a *models.Activity) (*models.OutboxMessage, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode activity %s: %w", a.ID, err)
	}
	return &models.OutboxMessage{
		ID:          uuid.NewString(),
		ActivityID:  a.ID,
		Topic:       ActivityTopic,
		Payload:     datatypes.JSON(payload),
		Status:      models.OutboxPending,
		NextAttempt: a.CreatedAt,
	}, nil
}

func (s *GormStore) ListActivities(ctx context.Context, bountyID string) ([]models.Activity, error) {
	var out []models.Activity
	err := s.db.WithContext(ctx).
		Where("bounty_id = ?", bountyID).
		Order("created_at ASC").
		Find(&out).Error
	return out, translate(err, "list activities")
}

func (s *GormStore) CountActorActivities(ctx context.Context, actorID string, typ models.ActivityType) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Activity{}).
		Where("actor_id = ? AND type = ?", actorID, typ).
		Count(&n).Error
	return n, translate(err, "count activities")
}

func (s *GormStore) GetProfile(ctx context.Context, actorID string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).First(&p, "external_user_id = ?", actorID).Error; err != nil {
		return nil, translate(err, "get profile")
	}
	return &p, nil
}

func (s *GormStore) UpsertProfile(ctx context.Context, p *models.Profile) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"handle", "payout_address", "max_active_claims", "updated_at",
		}),
	}).Create(p).Error
	return translate(err, "upsert profile")
}

func (s *GormStore) LastProfileUpdate(ctx context.Context) (time.Time, error) {
	var last *time.Time
	err := s.db.WithContext(ctx).
		Raw("SELECT MAX(updated_at) FROM profiles WHERE deleted_at IS NULL").
		Scan(&last).Error
	if err != nil {
		return time.Time{}, translate(err, "last profile update")
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

func (s *GormStore) FetchPendingOutbox(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error) {
	var out []models.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt <= ?", models.OutboxPending, now).
		Order("created_at ASC").
		Scopes(limited(limit)).
		Find(&out).Error
	return out, translate(err, "fetch outbox")
}

func (s *GormStore) MarkOutboxDelivered(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   models.OutboxDelivered,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
	return translate(err, "mark outbox delivered")
}

func (s *GormStore) MarkOutboxFailed(ctx context.Context, id, reason string, next time.Time, giveUp bool) error {
	status := models.OutboxPending
	if giveUp {
		status = models.OutboxFailed
	}
	err := s.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   reason,
			"next_attempt": next,
		}).Error
	return translate(err, "mark outbox failed")
}

func (s *GormStore) EnqueuePendingSync(ctx context.Context, p *models.PendingSync) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "network"}, {Name: "tx_id"}},
		DoNothing: true,
	}).Create(p).Error
	return translate(err, "enqueue pending sync")
}

func (s *GormStore) ListDuePendingSyncs(ctx context.Context, now time.Time, limit int) ([]models.PendingSync, error) {
	var out []models.PendingSync
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.PendingSyncWaiting, now).
		Order("next_attempt_at ASC").
		Scopes(limited(limit)).
		Find(&out).Error
	return out, translate(err, "list pending syncs")
}

func (s *GormStore) SavePendingSync(ctx context.Context, p *models.PendingSync) error {
	return translate(s.db.WithContext(ctx).Save(p).Error, "save pending sync")
}
