package workers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bounty-board/models"
	"bounty-board/repository"
	"bounty-board/services"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time { return func() time.Time { return epoch } }

func seedActivity(t *testing.T, store *repository.MemoryStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		a := &models.Activity{Type: models.ActivityNewBounty, BountyID: fmt.Sprintf("b-%d", i), Metadata: []byte(`{}`)}
		if err := store.AppendActivity(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
}

type scriptedNotifier struct {
	fail  map[string]bool
	calls int
}

func (n *scriptedNotifier) Notify(_ context.Context, msg models.OutboxMessage) error {
	n.calls++
	if n.fail[msg.ActivityID] {
		return errors.New("sink down")
	}
	return nil
}

func TestOutboxDrainDeliversAndBacksOff(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SetClock(fixedClock())
	seedActivity(t, store, 3)
	rows := store.Outbox()

	n := &scriptedNotifier{fail: map[string]bool{rows[1].ActivityID: true}}
	w := NewOutboxWorker(store, n, time.Second)
	w.now = fixedClock()

	delivered, err := w.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if delivered != 2 {
		t.Fatalf("expected two deliveries, got %d", delivered)
	}
	rows = store.Outbox()
	if rows[0].Status != models.OutboxDelivered || rows[2].Status != models.OutboxDelivered {
		t.Fatalf("unexpected statuses %v %v", rows[0].Status, rows[2].Status)
	}
	failed := rows[1]
	if failed.Status != models.OutboxPending || failed.Attempts != 1 || failed.LastError == "" {
		t.Fatalf("failed row not rescheduled: %+v", failed)
	}
	if !failed.NextAttempt.Equal(epoch.Add(w.Backoff)) {
		t.Fatalf("next attempt = %v", failed.NextAttempt)
	}

	// not due yet, so nothing is retried
	if delivered, err := w.Drain(context.Background()); err != nil || delivered != 0 || n.calls != 3 {
		t.Fatalf("second drain: delivered=%d err=%v calls=%d", delivered, err, n.calls)
	}
}

func TestOutboxDrainGivesUp(t *testing.T) {
	store := repository.NewMemoryStore()
	store.SetClock(fixedClock())
	seedActivity(t, store, 1)
	row := store.Outbox()[0]

	w := NewOutboxWorker(store, &scriptedNotifier{fail: map[string]bool{row.ActivityID: true}}, time.Second)
	w.MaxAttempts = 1
	w.now = fixedClock()
	if _, err := w.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := store.Outbox()[0].Status; got != models.OutboxFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	if got := backoff(time.Second, 1); got != time.Second {
		t.Fatalf("attempt 1 = %v", got)
	}
	if got := backoff(time.Second, 4); got != 8*time.Second {
		t.Fatalf("attempt 4 = %v", got)
	}
	if got := backoff(time.Minute, 30); got != time.Hour {
		t.Fatalf("attempt 30 = %v", got)
	}
}

type scriptedReconciler struct {
	errs map[string]error
	seen []services.SyncRequest
}

func (r *scriptedReconciler) ReconcileMany(_ context.Context, reqs []services.SyncRequest, _ int) []services.SyncOutcome {
	out := make([]services.SyncOutcome, len(reqs))
	for i, req := range reqs {
		r.seen = append(r.seen, req)
		out[i] = services.SyncOutcome{Request: req, Err: r.errs[req.TxID]}
		if out[i].Err == nil {
			out[i].Result = services.SyncResult{Status: services.SyncApplied, URL: "https://bounties.example/" + req.TxID}
		}
	}
	return out
}

func TestPendingSyncPoll(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	store.SetClock(fixedClock())
	for _, tx := range []string{"0x1", "0x2", "0x3"} {
		p := &models.PendingSync{TxID: tx, Network: "mainnet", IssueURL: "https://github.com/acme/widgets/issues/12", NextAttemptAt: epoch}
		if err := store.EnqueuePendingSync(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	r := &scriptedReconciler{errs: map[string]error{
		"0x2": services.ErrTransactionNotMined,
		"0x3": services.ErrInvalidInput,
	}}
	w := NewPendingSyncWorker(store, r, time.Second)
	w.now = fixedClock()

	if err := w.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if len(r.seen) != 3 {
		t.Fatalf("expected three reconciles, got %d", len(r.seen))
	}

	due, err := store.ListDuePendingSyncs(ctx, epoch.Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].TxID != "0x2" || due[0].Attempts != 1 {
		t.Fatalf("expected only the unmined entry to stay waiting, got %+v", due)
	}
	if !due[0].NextAttemptAt.Equal(epoch.Add(w.Backoff)) {
		t.Fatalf("next attempt = %v", due[0].NextAttemptAt)
	}

	// nothing else is due at the same instant
	r.seen = nil
	if err := w.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if len(r.seen) != 0 {
		t.Fatalf("expected no reconciles before the backoff elapses, got %d", len(r.seen))
	}
}

func TestProfileSyncUpserts(t *testing.T) {
	var gotSince, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/public/profiles" {
			http.NotFound(w, r)
			return
		}
		gotSince = r.URL.Query().Get("since")
		gotToken = r.Header.Get("X-Service-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"profiles":[
			{"external_id":"u-alice","username":"@Alice","max_active_claims":5,"updated_at":"2024-03-01T10:00:00Z"},
			{"external_id":"","username":"ghost"}
		]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := repository.NewMemoryStore()
	w := NewProfileSyncWorker(store, srv.URL, "/api/v1/public/profiles", "svc-token", time.Minute)

	if err := w.SyncOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if gotToken != "svc-token" || gotSince != "0001-01-01T00:00:00Z" {
		t.Fatalf("unexpected request since=%q token=%q", gotSince, gotToken)
	}
	p, err := store.GetProfile(ctx, "u-alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Handle != "alice" || p.ClaimCeiling(3) != 5 {
		t.Fatalf("unexpected profile %+v", p)
	}

	if err := w.SyncOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if gotSince != "2024-03-01T10:00:00Z" {
		t.Fatalf("second sync should resume from the newest profile, since=%q", gotSince)
	}
}

func TestProfileSyncSurfacesServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := NewProfileSyncWorker(repository.NewMemoryStore(), srv.URL, "/profiles", "bad", time.Minute)
	if err := w.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected a non-200 response to fail the batch")
	}
}
