package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ReceiptReader is the slice of ethclient used to check confirmation.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type endpoint struct {
	receipts ReceiptReader
	indexer  *IndexerClient
}

// ChainClient implements Client over an EVM JSON-RPC node (receipts) and the indexer
// (bounty resolution and state). RPC connections are dialed lazily and cached per network.
type ChainClient struct {
	networks map[string]Network
	token    string
	timeout  time.Duration

	mu        sync.RWMutex
	endpoints map[string]*endpoint
	dial      func(ctx context.Context, rawURL string) (ReceiptReader, error)
}

func NewChainClient(networks []Network, indexerToken string, timeout time.Duration) *ChainClient {
	byName := make(map[string]Network, len(networks))
	for _, n := range networks {
		byName[n.Name] = n
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ChainClient{
		networks:  byName,
		token:     indexerToken,
		timeout:   timeout,
		endpoints: make(map[string]*endpoint),
		dial: func(ctx context.Context, rawURL string) (ReceiptReader, error) {
			return ethclient.DialContext(ctx, rawURL)
		},
	}
}

// Networks returns the configured network names.
func (c *ChainClient) Networks() []string {
	out := make([]string, 0, len(c.networks))
	for name := range c.networks {
		out = append(out, name)
	}
	return out
}

func (c *ChainClient) endpoint(ctx context.Context, network string) (*endpoint, error) {
	c.mu.RLock()
	ep, ok := c.endpoints[network]
	c.mu.RUnlock()
	if ok {
		return ep, nil
	}

	cfg, ok := c.networks[network]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.endpoints[network]; ok {
		return ep, nil
	}

	rpc, err := c.dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", network, err)
	}
	ep = &endpoint{receipts: rpc, indexer: NewIndexerClient(cfg.IndexerURL, c.token)}
	c.endpoints[network] = ep
	log.Printf("[LEDGER] connected to %s", network)
	return ep, nil
}

func (c *ChainClient) IsTransactionMined(ctx context.Context, txID, network string) (bool, error) {
	hash, err := parseTxHash(txID)
	if err != nil {
		return false, err
	}
	ep, err := c.endpoint(ctx, network)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := ep.receipts.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("receipt %s on %s: %w", txID, network, err)
	}
	return receipt != nil, nil
}

func (c *ChainClient) ResolveBountyID(ctx context.Context, issueURL, network string) (string, error) {
	ep, err := c.endpoint(ctx, network)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return ep.indexer.ResolveBountyID(ctx, issueURL)
}

func (c *ChainClient) FetchBountyProjection(ctx context.Context, ledgerID, network string) (*Projection, error) {
	ep, err := c.endpoint(ctx, network)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return ep.indexer.FetchBounty(ctx, ledgerID)
}

// parseTxHash accepts only a 0x-prefixed 32-byte hash.
func parseTxHash(txID string) (common.Hash, error) {
	raw, err := hexutil.Decode(txID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %q: %v", ErrInvalidTxID, txID, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q is %d bytes, want %d", ErrInvalidTxID, txID, len(raw), common.HashLength)
	}
	return common.BytesToHash(raw), nil
}
