package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"bounty-board/ledger"
	"bounty-board/models"
	"bounty-board/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SyncRequest asks for the bounty behind issueURL to be reconciled once txID lands.
type SyncRequest struct {
	TxID     string `json:"txid"`
	IssueURL string `json:"url"`
	Network  string `json:"network"`
}

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncApplied SyncStatus = "applied"
)

// SyncResult is what the reconciler reports. Changed is false when the ledger still
// matched the local projection after every attempt.
type SyncResult struct {
	Status   SyncStatus `json:"status"`
	Changed  bool       `json:"changed"`
	URL      string     `json:"url,omitempty"`
	BountyID string     `json:"bounty_id,omitempty"`
	Attempts int        `json:"attempts"`
}

// Reconciler pulls the ledger's view of a bounty into the local projection. Calls for
// different bounties run independently; repeated calls for the same bounty are
// idempotent.
type Reconciler struct {
	store     repository.Store
	ledger    ledger.Client
	lifecycle *Lifecycle
	settings  Settings
	// PendingDelay is when a pending-sync entry is first retried.
	PendingDelay time.Duration
}

func NewReconciler(store repository.Store, client ledger.Client, lifecycle *Lifecycle, settings Settings) *Reconciler {
	return &Reconciler{
		store:        store,
		ledger:       client,
		lifecycle:    lifecycle,
		settings:     settings,
		PendingDelay: 30 * time.Second,
	}
}

// Reconcile does not wait for confirmation: an unmined transaction returns a pending
// result and ErrTransactionNotMined straight away, after queueing the request for the
// pending sync worker. Once mined, the bounty is resolved once, then fetched and applied
// under the retry policy while the ledger reports no change or fails transiently.
// Exhausting the policy is not an error.
func (r *Reconciler) Reconcile(ctx context.Context, req SyncRequest) (SyncResult, error) {
	req.TxID = strings.TrimSpace(req.TxID)
	req.IssueURL = strings.TrimSpace(req.IssueURL)
	req.Network = strings.TrimSpace(req.Network)
	if req.Network == "" {
		req.Network = r.settings.DefaultNetwork
	}
	if req.TxID == "" || req.IssueURL == "" || req.Network == "" {
		return SyncResult{}, invalidInput("txid, url and network are required")
	}

	mined, err := r.ledger.IsTransactionMined(ctx, req.TxID, req.Network)
	switch {
	case errors.Is(err, ledger.ErrUnknownNetwork):
		return SyncResult{}, invalidInput("unknown network %q", req.Network)
	case errors.Is(err, ledger.ErrInvalidTxID):
		return SyncResult{}, invalidInput("txid %q is not a transaction hash", req.TxID)
	}
	if err != nil {
		return SyncResult{}, transient(err)
	}
	if !mined {
		r.enqueuePending(ctx, req)
		return SyncResult{Status: SyncPending}, ErrTransactionNotMined
	}

	id, err := r.ledger.ResolveBountyID(ctx, req.IssueURL, req.Network)
	if errors.Is(err, ledger.ErrBountyNotFound) {
		return SyncResult{}, ErrUnresolvedBounty
	}
	if err != nil {
		return SyncResult{}, transient(err)
	}

	result := SyncResult{Status: SyncApplied}
	_, err = r.settings.Retry.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		result.Attempts = attempt

		proj, err := r.ledger.FetchBountyProjection(ctx, id, req.Network)
		if err != nil {
			return false, transient(err)
		}

		b, changed, err := r.lifecycle.ApplyProjection(ctx, req.Network, proj)
		if err != nil {
			return false, err
		}
		result.BountyID = b.ID
		result.URL = BountyURL(r.settings.BaseURL, b)
		result.Changed = changed
		if !changed {
			log.Printf("[RECONCILE] %s on %s: no change on attempt %d", req.IssueURL, req.Network, attempt)
		}
		return changed, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrTransient):
		log.Printf("[RECONCILE] ⚠️ giving up on %s after %d attempt(s): %v", req.IssueURL, result.Attempts, err)
	default:
		return result, err
	}
	return result, nil
}

func (r *Reconciler) enqueuePending(ctx context.Context, req SyncRequest) {
	p := &models.PendingSync{
		ID:            uuid.NewString(),
		TxID:          req.TxID,
		Network:       req.Network,
		IssueURL:      req.IssueURL,
		Status:        models.PendingSyncWaiting,
		NextAttemptAt: r.settings.now().Add(r.PendingDelay),
	}
	if err := r.store.EnqueuePendingSync(ctx, p); err != nil {
		log.Printf("[RECONCILE] ❌ failed to queue pending sync for tx %s: %v", req.TxID, err)
	}
}

// SyncOutcome pairs a request with its result.
type SyncOutcome struct {
	Request SyncRequest
	Result  SyncResult
	Err     error
}

// ReconcileMany reconciles independent requests concurrently, at most limit at a time.
// One request failing does not stop the others.
func (r *Reconciler) ReconcileMany(ctx context.Context, reqs []SyncRequest, limit int) []SyncOutcome {
	out := make([]SyncOutcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := r.Reconcile(gctx, req)
			out[i] = SyncOutcome{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
