package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"bounty-board/models"
)

func TestRetryPolicyStopsWhenDone(t *testing.T) {
	calls := 0
	done, err := RetryPolicy{Attempts: 5}.Do(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		return calls == 2, nil
	})
	if !done || err != nil || calls != 2 {
		t.Fatalf("done=%v err=%v calls=%d", done, err, calls)
	}
}

func TestRetryPolicyNoSleepAfterLastAttempt(t *testing.T) {
	start := time.Now()
	done, err := RetryPolicy{Attempts: 1, Delay: time.Hour}.Do(context.Background(), func(context.Context, int) (bool, error) {
		return false, nil
	})
	if done || err != nil {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("policy slept after its final attempt")
	}
}

func TestRetryPolicyReturnsLastTransientError(t *testing.T) {
	calls := 0
	_, err := RetryPolicy{Attempts: 3}.Do(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		return false, transient(errors.New("timeout"))
	})
	wantErr(t, err, ErrTransient)
	if calls != 3 {
		t.Fatalf("expected three calls, got %d", calls)
	}
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryPolicy{Attempts: 3}.Do(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		return false, ErrUnresolvedBounty
	})
	wantErr(t, err, ErrUnresolvedBounty)
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryPolicyCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := RetryPolicy{Attempts: 3, Delay: time.Hour}.Do(ctx, func(context.Context, int) (bool, error) {
		cancel()
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBountyURL(t *testing.T) {
	tests := []struct {
		name string
		b    models.Bounty
		want string
	}{
		{
			name: "github issue",
			b:    models.Bounty{IssueURL: "https://github.com/Acme-Corp/Widgets/issues/12", LedgerID: "42"},
			want: "https://bounties.example/issue/acme-corp/widgets/12/42",
		},
		{
			name: "pull request",
			b:    models.Bounty{IssueURL: "https://github.com/acme/widgets/pull/9/", LedgerID: "7"},
			want: "https://bounties.example/issue/acme/widgets/9/7",
		},
		{
			name: "non github falls back to title",
			b:    models.Bounty{IssueURL: "https://gitlab.example/x", LedgerID: "8", Title: "Port the Parser!"},
			want: "https://bounties.example/bounty/8/port-the-parser",
		},
		{
			name: "empty title",
			b:    models.Bounty{LedgerID: "9"},
			want: "https://bounties.example/bounty/9/bounty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BountyURL("https://bounties.example/", &tt.b); got != tt.want {
				t.Fatalf("BountyURL = %q, want %q", got, tt.want)
			}
		})
	}
}
