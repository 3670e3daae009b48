package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bounty-board/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local runs without postgres.
// Transactions are serialized and rolled back by restoring a snapshot.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memData
	seq  int64
	now  func() time.Time
}

type memData struct {
	bounties     map[string]models.Bounty
	claims       map[string]models.Claim
	fulfillments map[string]models.Fulfillment
	activities   []models.Activity
	outbox       map[string]models.OutboxMessage
	profiles     map[string]models.Profile // keyed by external user id
	pending      map[string]models.PendingSync
	order        map[string]int64 // insertion order, breaks created_at ties
}

func newMemData() memData {
	return memData{
		bounties:     map[string]models.Bounty{},
		claims:       map[string]models.Claim{},
		fulfillments: map[string]models.Fulfillment{},
		outbox:       map[string]models.OutboxMessage{},
		profiles:     map[string]models.Profile{},
		pending:      map[string]models.PendingSync{},
		order:        map[string]int64{},
	}
}

func (d memData) clone() memData {
	c := newMemData()
	for k, v := range d.bounties {
		c.bounties[k] = v
	}
	for k, v := range d.claims {
		c.claims[k] = v
	}
	for k, v := range d.fulfillments {
		c.fulfillments[k] = v
	}
	c.activities = append([]models.Activity(nil), d.activities...)
	for k, v := range d.outbox {
		c.outbox[k] = v
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.pending {
		c.pending[k] = v
	}
	for k, v := range d.order {
		c.order[k] = v
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData(), now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the timestamp source used for created/updated fields.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.data.clone()
	seq := m.seq
	m.mu.Unlock()

	if err := fn(memTx{m}); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.seq = seq
		m.mu.Unlock()
		return err
	}
	return nil
}

// memTx is the view handed to a transaction body; nested WithTx joins it.
type memTx struct{ *MemoryStore }

func (t memTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (m *MemoryStore) stamp(id string) {
	m.seq++
	m.data.order[id] = m.seq
}

func (m *MemoryStore) GetBounty(_ context.Context, id string) (*models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data.bounties[id]
	if !ok {
		return nil, fmt.Errorf("get bounty: %w", ErrNotFound)
	}
	return &b, nil
}

func (m *MemoryStore) GetBountyByLedgerRef(_ context.Context, network, ledgerID string) (*models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.data.bounties {
		if b.Network == network && b.LedgerID == ledgerID {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("get bounty by ledger ref: %w", ErrNotFound)
}

func (m *MemoryStore) CreateBounty(_ context.Context, b *models.Bounty) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.bounties {
		if existing.Network == b.Network && existing.LedgerID == b.LedgerID {
			return false, nil
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, ok := m.data.bounties[b.ID]; ok {
		return false, fmt.Errorf("create bounty: %w", ErrDuplicate)
	}
	now := m.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	m.data.bounties[b.ID] = *b
	m.stamp(b.ID)
	return true, nil
}

func (m *MemoryStore) SaveBounty(_ context.Context, b *models.Bounty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := m.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if _, ok := m.data.bounties[b.ID]; !ok {
		m.stamp(b.ID)
	}
	m.data.bounties[b.ID] = *b
	return nil
}

func (m *MemoryStore) ListOverdueBounties(_ context.Context, now time.Time, limit int) ([]models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Bounty
	for _, b := range m.data.bounties {
		switch b.Status {
		case models.BountyStatusOpen, models.BountyStatusReserved, models.BountyStatusStarted:
		default:
			continue
		}
		if b.CancelledAt == nil && b.Deadline.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPairClaims(_ context.Context, bountyID, actorID string) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Claim
	for _, c := range m.data.claims {
		if c.BountyID == bountyID && c.ActorID == actorID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return !m.claimBefore(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStore) ListBountyClaims(_ context.Context, bountyID string) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Claim
	for _, c := range m.data.claims {
		if c.BountyID == bountyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.claimBefore(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStore) claimBefore(a, b models.Claim) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return m.data.order[a.ID] < m.data.order[b.ID]
}

func (m *MemoryStore) CreateClaim(_ context.Context, c *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := m.data.claims[c.ID]; ok {
		return fmt.Errorf("create claim: %w", ErrDuplicate)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.data.claims[c.ID] = *c
	m.stamp(c.ID)
	return nil
}

func (m *MemoryStore) SaveClaim(_ context.Context, c *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.claims[c.ID]; !ok {
		return fmt.Errorf("save claim: %w", ErrNotFound)
	}
	m.data.claims[c.ID] = *c
	return nil
}

func (m *MemoryStore) DeleteClaims(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.data.claims, id)
	}
	return nil
}

func (m *MemoryStore) CountActiveClaims(_ context.Context, actorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.data.claims {
		if c.ActorID != actorID {
			continue
		}
		b, ok := m.data.bounties[c.BountyID]
		if ok && b.EffectiveStatus().InProgress() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListFulfillments(_ context.Context, bountyID string) ([]models.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Fulfillment
	for _, f := range m.data.fulfillments {
		if f.BountyID == bountyID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return m.data.order[out[i].ID] < m.data.order[out[j].ID]
	})
	return out, nil
}

func (m *MemoryStore) CreateFulfillment(_ context.Context, f *models.Fulfillment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertFulfillment(f)
}

func (m *MemoryStore) insertFulfillment(f *models.Fulfillment) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if _, ok := m.data.fulfillments[f.ID]; ok {
		return fmt.Errorf("create fulfillment: %w", ErrDuplicate)
	}
	if f.LedgerFulfillmentID != nil {
		for _, existing := range m.data.fulfillments {
			if existing.BountyID == f.BountyID && existing.LedgerFulfillmentID != nil &&
				*existing.LedgerFulfillmentID == *f.LedgerFulfillmentID {
				return fmt.Errorf("create fulfillment: %w", ErrDuplicate)
			}
		}
	}
	now := m.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	m.data.fulfillments[f.ID] = *f
	m.stamp(f.ID)
	return nil
}

func (m *MemoryStore) UpsertFulfillment(_ context.Context, f *models.Fulfillment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.LedgerFulfillmentID != nil {
		for id, existing := range m.data.fulfillments {
			if existing.BountyID != f.BountyID || existing.LedgerFulfillmentID == nil ||
				*existing.LedgerFulfillmentID != *f.LedgerFulfillmentID {
				continue
			}
			existing.Accepted = existing.Accepted || f.Accepted
			if existing.AcceptedAt == nil {
				existing.AcceptedAt = f.AcceptedAt
			}
			existing.Metadata = f.Metadata
			existing.SubmitterAddress = f.SubmitterAddress
			existing.UpdatedAt = m.now()
			m.data.fulfillments[id] = existing
			*f = existing
			return nil
		}
	}
	return m.insertFulfillment(f)
}

func (m *MemoryStore) AppendActivity(_ context.Context, a *models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	msg, err := outboxFor(a)
	if err != nil {
		return err
	}
	m.data.activities = append(m.data.activities, *a)
	m.data.outbox[msg.ID] = *msg
	m.stamp(msg.ID)
	return nil
}

func (m *MemoryStore) ListActivities(_ context.Context, bountyID string) ([]models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Activity
	for _, a := range m.data.activities {
		if a.BountyID == bountyID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountActorActivities(_ context.Context, actorID string, typ models.ActivityType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.data.activities {
		if a.ActorID == actorID && a.Type == typ {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetProfile(_ context.Context, actorID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data.profiles[actorID]
	if !ok {
		return nil, fmt.Errorf("get profile: %w", ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryStore) UpsertProfile(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data.profiles[p.ExternalUserID]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.now()
	}
	m.data.profiles[p.ExternalUserID] = *p
	return nil
}

func (m *MemoryStore) LastProfileUpdate(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for _, p := range m.data.profiles {
		if p.UpdatedAt.After(last) {
			last = p.UpdatedAt
		}
	}
	return last, nil
}

func (m *MemoryStore) FetchPendingOutbox(_ context.Context, now time.Time, limit int) ([]models.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxMessage
	for _, msg := range m.data.outbox {
		if msg.Status == models.OutboxPending && !msg.NextAttempt.After(now) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.data.order[out[i].ID] < m.data.order[out[j].ID] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkOutboxDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.data.outbox[id]
	if !ok {
		return fmt.Errorf("mark outbox delivered: %w", ErrNotFound)
	}
	msg.Status = models.OutboxDelivered
	msg.Attempts++
	m.data.outbox[id] = msg
	return nil
}

func (m *MemoryStore) MarkOutboxFailed(_ context.Context, id, reason string, next time.Time, giveUp bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.data.outbox[id]
	if !ok {
		return fmt.Errorf("mark outbox failed: %w", ErrNotFound)
	}
	msg.Attempts++
	msg.LastError = reason
	msg.NextAttempt = next
	if giveUp {
		msg.Status = models.OutboxFailed
	}
	m.data.outbox[id] = msg
	return nil
}

// Outbox returns every outbox message in insertion order.
func (m *MemoryStore) Outbox() []models.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OutboxMessage, 0, len(m.data.outbox))
	for _, msg := range m.data.outbox {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return m.data.order[out[i].ID] < m.data.order[out[j].ID] })
	return out
}

func (m *MemoryStore) EnqueuePendingSync(_ context.Context, p *models.PendingSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.pending {
		if existing.Network == p.Network && existing.TxID == p.TxID {
			return nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PendingSyncWaiting
	}
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.data.pending[p.ID] = *p
	m.stamp(p.ID)
	return nil
}

func (m *MemoryStore) ListDuePendingSyncs(_ context.Context, now time.Time, limit int) ([]models.PendingSync, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PendingSync
	for _, p := range m.data.pending {
		if p.Status == models.PendingSyncWaiting && !p.NextAttemptAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SavePendingSync(_ context.Context, p *models.PendingSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.pending[p.ID]; !ok {
		return fmt.Errorf("save pending sync: %w", ErrNotFound)
	}
	p.UpdatedAt = m.now()
	m.data.pending[p.ID] = *p
	return nil
}
