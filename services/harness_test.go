package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bounty-board/ledger"
	"bounty-board/models"
	"bounty-board/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	funder = Actor{ID: "u-funder", Handle: "funder"}
	staff  = Actor{ID: "u-staff", Handle: "staffer", IsStaff: true}
	mod    = Actor{ID: "u-mod", Handle: "moddy", IsModerator: true}
	alice  = Actor{ID: "u-alice", Handle: "alice"}
	bob    = Actor{ID: "u-bob", Handle: "bob"}
)

type harness struct {
	store     *repository.MemoryStore
	settings  Settings
	lifecycle *Lifecycle
	claims    *ClaimRegistry

	mu    sync.Mutex
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: repository.NewMemoryStore(),
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.settings = DefaultSettings()
	h.settings.BaseURL = "https://bounties.example"
	h.settings.Retry = RetryPolicy{Attempts: 3}
	h.settings.Now = h.now
	h.store.SetClock(h.now)
	h.lifecycle = NewLifecycle(h.store, h.settings)
	h.claims = NewClaimRegistry(h.store, h.lifecycle, nil, h.settings)
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

// seed stores an active, open, exclusive bounty funded by funder. mutate runs before the
// status is computed.
func (h *harness) seed(t *testing.T, mutate func(b *models.Bounty)) *models.Bounty {
	t.Helper()
	b := &models.Bounty{
		ID:             uuid.NewString(),
		Network:        "mainnet",
		LedgerID:       uuid.NewString(),
		IssueURL:       "https://github.com/acme/widgets/issues/12",
		Title:          "Fix the widget",
		LedgerStage:    models.LedgerStageActive,
		PermissionMode: models.PermissionOpen,
		ProjectType:    models.ProjectTraditional,
		FunderHandle:   funder.Handle,
		Value:          decimal.RequireFromString("0.5"),
		Token:          "ETH",
		Deadline:       h.now().Add(7 * 24 * time.Hour),
	}
	if mutate != nil {
		mutate(b)
	}
	b.Status = ComputeStatus(b, nil, nil, h.now())
	if _, err := h.store.CreateBounty(context.Background(), b); err != nil {
		t.Fatalf("seed bounty: %v", err)
	}
	return b
}

func (h *harness) bounty(t *testing.T, id string) *models.Bounty {
	t.Helper()
	b, err := h.store.GetBounty(context.Background(), id)
	if err != nil {
		t.Fatalf("get bounty: %v", err)
	}
	return b
}

func (h *harness) events(t *testing.T, bountyID string) []models.ActivityType {
	t.Helper()
	acts, err := h.store.ListActivities(context.Background(), bountyID)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	out := make([]models.ActivityType, 0, len(acts))
	for _, a := range acts {
		out = append(out, a.Type)
	}
	return out
}

func (h *harness) countEvents(t *testing.T, bountyID string, typ models.ActivityType) int {
	t.Helper()
	n := 0
	for _, e := range h.events(t, bountyID) {
		if e == typ {
			n++
		}
	}
	return n
}

func (h *harness) claimsOf(t *testing.T, bountyID string) []models.Claim {
	t.Helper()
	claims, err := h.store.ListBountyClaims(context.Background(), bountyID)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	return claims
}

func wantErr(t *testing.T, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// fakeLedger is a scripted ledger.Client that counts calls.
type fakeLedger struct {
	mu          sync.Mutex
	mined       bool
	minedErr    error
	ids         map[string]string
	projections map[string]*ledger.Projection
	fetchErrs   []error

	minedCalls, resolveCalls, fetchCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{mined: true, ids: map[string]string{}, projections: map[string]*ledger.Projection{}}
}

func (f *fakeLedger) put(issueURL string, p *ledger.Projection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[issueURL] = p.LedgerID
	f.projections[p.LedgerID] = p
}

func (f *fakeLedger) IsTransactionMined(context.Context, string, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minedCalls++
	return f.mined, f.minedErr
}

func (f *fakeLedger) ResolveBountyID(_ context.Context, issueURL, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	id, ok := f.ids[issueURL]
	if !ok {
		return "", ledger.ErrBountyNotFound
	}
	return id, nil
}

func (f *fakeLedger) FetchBountyProjection(_ context.Context, id, _ string) (*ledger.Projection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	p, ok := f.projections[id]
	if !ok {
		return nil, ledger.ErrBountyNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeLedger) ledgerReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls + f.fetchCalls
}
