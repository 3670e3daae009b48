package workers

import (
	"context"
	"log"
	"time"

	"bounty-board/notify"
	"bounty-board/repository"
)

// OutboxWorker drains activity outbox rows into a notifier. Delivery is at least once:
// a row is marked delivered only after the notifier accepted it.
type OutboxWorker struct {
	store       repository.Store
	notifier    notify.Notifier
	interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
	now         func() time.Time
}

func NewOutboxWorker(store repository.Store, notifier notify.Notifier, interval time.Duration) *OutboxWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &OutboxWorker{
		store:       store,
		notifier:    notifier,
		interval:    interval,
		BatchSize:   100,
		MaxAttempts: 8,
		Backoff:     15 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	log.Println("📤 Starting outbox worker (activity → notifier)…")
	go w.run(ctx)
}

func (w *OutboxWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil {
				log.Printf("[OUTBOX] ❌ drain failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Outbox worker stopped")
			return
		}
	}
}

// Drain delivers one batch of due messages and reports how many were delivered.
// Notifier failures are recorded on the row and do not fail the batch.
func (w *OutboxWorker) Drain(ctx context.Context) (int, error) {
	now := w.now()
	batch, err := w.store.FetchPendingOutbox(ctx, now, w.BatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := w.notifier.Notify(ctx, msg); err != nil {
			attempts := msg.Attempts + 1
			giveUp := attempts >= w.MaxAttempts
			next := now.Add(backoff(w.Backoff, attempts))
			if giveUp {
				log.Printf("[OUTBOX] ⚠️ giving up on %s after %d attempt(s): %v", msg.ID, attempts, err)
			} else {
				log.Printf("[OUTBOX] delivery of %s failed (attempt %d), retrying at %s: %v",
					msg.ID, attempts, next.Format(time.RFC3339), err)
			}
			if err := w.store.MarkOutboxFailed(ctx, msg.ID, err.Error(), next, giveUp); err != nil {
				return delivered, err
			}
			continue
		}
		if err := w.store.MarkOutboxDelivered(ctx, msg.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	if delivered > 0 {
		log.Printf("[OUTBOX] ✅ delivered %d message(s)", delivered)
	}
	return delivered, nil
}

// backoff doubles base per attempt, capped at one hour.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}
