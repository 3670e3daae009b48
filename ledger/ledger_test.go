package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const testTx = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"

type fakeReceipts struct {
	receipt *types.Receipt
	err     error
	calls   int
}

func (f *fakeReceipts) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.calls++
	return f.receipt, f.err
}

func clientWithReceipts(t *testing.T, r ReceiptReader, indexerURL string) *ChainClient {
	t.Helper()
	c := NewChainClient([]Network{{Name: "mainnet", RPCURL: "http://rpc.invalid", IndexerURL: indexerURL}}, "svc-token", time.Second)
	c.dial = func(context.Context, string) (ReceiptReader, error) { return r, nil }
	return c
}

func TestIsTransactionMined(t *testing.T) {
	ctx := context.Background()

	pending := &fakeReceipts{err: ethereum.NotFound}
	mined, err := clientWithReceipts(t, pending, "").IsTransactionMined(ctx, testTx, "mainnet")
	if err != nil || mined {
		t.Fatalf("not-found receipt: mined=%v err=%v", mined, err)
	}

	landed := &fakeReceipts{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	mined, err = clientWithReceipts(t, landed, "").IsTransactionMined(ctx, testTx, "mainnet")
	if err != nil || !mined {
		t.Fatalf("found receipt: mined=%v err=%v", mined, err)
	}

	broken := &fakeReceipts{err: errors.New("connection reset")}
	if _, err := clientWithReceipts(t, broken, "").IsTransactionMined(ctx, testTx, "mainnet"); err == nil {
		t.Fatal("expected rpc error to surface")
	}
}

func TestIsTransactionMinedRejectsMalformedIDs(t *testing.T) {
	ctx := context.Background()
	receipts := &fakeReceipts{err: ethereum.NotFound}
	c := clientWithReceipts(t, receipts, "")

	for _, id := range []string{"", "abc", "0xabc", "0xzz", "0x" + strings.Repeat("ab", 33), testTx[2:]} {
		if _, err := c.IsTransactionMined(ctx, id, "mainnet"); !errors.Is(err, ErrInvalidTxID) {
			t.Fatalf("%q: expected ErrInvalidTxID, got %v", id, err)
		}
	}
	if receipts.calls != 0 {
		t.Fatalf("malformed ids reached the rpc %d time(s)", receipts.calls)
	}
}

func TestEndpointIsDialedOncePerNetwork(t *testing.T) {
	var dials int32
	c := NewChainClient([]Network{{Name: "mainnet"}}, "", time.Second)
	c.dial = func(context.Context, string) (ReceiptReader, error) {
		atomic.AddInt32(&dials, 1)
		return &fakeReceipts{err: ethereum.NotFound}, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := c.IsTransactionMined(context.Background(), testTx, "mainnet"); err != nil {
			t.Fatal(err)
		}
	}
	if dials != 1 {
		t.Fatalf("expected one dial, got %d", dials)
	}
}

func TestUnknownNetwork(t *testing.T) {
	c := NewChainClient(nil, "", time.Second)
	if _, err := c.IsTransactionMined(context.Background(), testTx, "ropsten"); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}

func TestIsTransactionMinedOverJSONRPC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		if req.Method != "eth_getTransactionReceipt" {
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":null}`))
	}))
	defer srv.Close()

	c := NewChainClient([]Network{{Name: "mainnet", RPCURL: srv.URL}}, "", time.Second)
	mined, err := c.IsTransactionMined(context.Background(), testTx, "mainnet")
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	if mined {
		t.Fatal("null receipt should report unmined")
	}
}

func TestIndexerResolveAndFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Service-Token"); got != "svc-token" {
			t.Errorf("missing service token, got %q", got)
		}
		switch {
		case r.URL.Path == "/api/v1/bounties/resolve":
			if r.URL.Query().Get("issue_url") == "https://github.com/acme/widgets/issues/9" {
				_, _ = w.Write([]byte(`{"bounty_id":"17"}`))
				return
			}
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/api/v1/bounties/17"):
			_, _ = w.Write([]byte(`{
				"bounty_id": "17",
				"issue_url": "https://github.com/acme/widgets/issues/9",
				"stage": "active",
				"value": "1.5",
				"token": "ETH",
				"deadline": "2030-01-01T00:00:00Z",
				"permission_type": "approval",
				"project_type": "traditional",
				"fulfillments": [{"fulfillment_id": "0", "submitter_handle": "alice", "accepted": true}]
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := clientWithReceipts(t, &fakeReceipts{}, srv.URL)
	ctx := context.Background()

	id, err := c.ResolveBountyID(ctx, "https://github.com/acme/widgets/issues/9", "mainnet")
	if err != nil || id != "17" {
		t.Fatalf("resolve: id=%q err=%v", id, err)
	}
	if _, err := c.ResolveBountyID(ctx, "https://github.com/acme/widgets/issues/10", "mainnet"); !errors.Is(err, ErrBountyNotFound) {
		t.Fatalf("expected ErrBountyNotFound, got %v", err)
	}

	p, err := c.FetchBountyProjection(ctx, "17", "mainnet")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !p.Value.Equal(decimal.RequireFromString("1.5")) || p.PermissionMode != "approval" {
		t.Fatalf("unexpected projection %+v", p)
	}
	if len(p.Fulfillments) != 1 || !p.Fulfillments[0].Accepted {
		t.Fatalf("unexpected fulfillments %+v", p.Fulfillments)
	}
}
