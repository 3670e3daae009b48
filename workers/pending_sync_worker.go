package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"bounty-board/models"
	"bounty-board/repository"
	"bounty-board/services"
)

// BatchReconciler is the part of *services.Reconciler the pending sync worker drives.
type BatchReconciler interface {
	ReconcileMany(ctx context.Context, reqs []services.SyncRequest, limit int) []services.SyncOutcome
}

// PendingSyncWorker re-polls sync requests whose transaction was not yet mined when
// they arrived.
type PendingSyncWorker struct {
	store       repository.Store
	reconciler  BatchReconciler
	interval    time.Duration
	BatchSize   int
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration
	now         func() time.Time
}

func NewPendingSyncWorker(store repository.Store, reconciler BatchReconciler, interval time.Duration) *PendingSyncWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PendingSyncWorker{
		store:       store,
		reconciler:  reconciler,
		interval:    interval,
		BatchSize:   50,
		Concurrency: 4,
		MaxAttempts: 20,
		Backoff:     30 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (w *PendingSyncWorker) Start(ctx context.Context) {
	log.Println("⛓️ Starting pending sync worker (unmined transactions → reconcile)…")
	go w.run(ctx)
}

func (w *PendingSyncWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				log.Printf("[PENDING_SYNC] ❌ poll failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Pending sync worker stopped")
			return
		}
	}
}

// Poll reconciles every due entry once. Mined and applied entries are marked done;
// entries still unmined, or whose bounty the indexer has not seen yet, back off; any
// other failure abandons the entry.
func (w *PendingSyncWorker) Poll(ctx context.Context) error {
	now := w.now()
	due, err := w.store.ListDuePendingSyncs(ctx, now, w.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	log.Printf("[PENDING_SYNC] 📡 re-polling %d pending sync(s)", len(due))

	reqs := make([]services.SyncRequest, len(due))
	for i, p := range due {
		reqs[i] = services.SyncRequest{TxID: p.TxID, IssueURL: p.IssueURL, Network: p.Network}
	}
	outcomes := w.reconciler.ReconcileMany(ctx, reqs, w.Concurrency)

	var done, retry, abandoned int
	for i, out := range outcomes {
		p := due[i]
		p.Attempts++
		switch {
		case out.Err == nil:
			p.Status = models.PendingSyncDone
			p.LastError = ""
			p.ResultURL = out.Result.URL
			done++
		case errors.Is(out.Err, services.ErrTransient) || errors.Is(out.Err, services.ErrUnresolved):
			p.LastError = out.Err.Error()
			if p.Attempts >= w.MaxAttempts {
				p.Status = models.PendingSyncAbandoned
				abandoned++
			} else {
				p.NextAttemptAt = now.Add(backoff(w.Backoff, p.Attempts))
				retry++
			}
		default:
			p.LastError = out.Err.Error()
			p.Status = models.PendingSyncAbandoned
			abandoned++
		}
		if err := w.store.SavePendingSync(ctx, &p); err != nil {
			return err
		}
	}
	log.Printf("[PENDING_SYNC] ✅ %d done, %d retrying, %d abandoned", done, retry, abandoned)
	return nil
}
