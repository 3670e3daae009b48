// Package ledger reads the escrow contract's view of a bounty: whether a transaction has
// been mined, which on-chain bounty an issue maps to, and the canonical bounty fields.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bounty-board/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrBountyNotFound is returned when the ledger has no bounty for the lookup.
	ErrBountyNotFound = errors.New("ledger: bounty not found")
	// ErrUnknownNetwork is returned for a network with no configured endpoints.
	ErrUnknownNetwork = errors.New("ledger: unknown network")
	// ErrInvalidTxID is returned for a transaction id that is not a 32-byte hex hash.
	ErrInvalidTxID = errors.New("ledger: invalid transaction id")
)

// Client is the oracle the reconciliation engine polls. Every call names its network
// explicitly; implementations hold no notion of a current network.
type Client interface {
	IsTransactionMined(ctx context.Context, txID, network string) (bool, error)
	ResolveBountyID(ctx context.Context, issueURL, network string) (string, error)
	FetchBountyProjection(ctx context.Context, ledgerID, network string) (*Projection, error)
}

// Projection is the canonical, ledger-owned state of one bounty.
type Projection struct {
	LedgerID       string                  `json:"bounty_id"`
	IssueURL       string                  `json:"issue_url"`
	Title          string                  `json:"title"`
	Stage          models.LedgerStage      `json:"stage"`
	FunderHandle   string                  `json:"funder_handle"`
	FunderAddress  string                  `json:"funder_address"`
	Value          decimal.Decimal         `json:"value"`
	Token          string                  `json:"token"`
	Deadline       time.Time               `json:"deadline"`
	PermissionMode models.PermissionMode   `json:"permission_type"`
	ProjectType    models.ProjectType      `json:"project_type"`
	ReservedFor    string                  `json:"reserved_for,omitempty"`
	Fulfillments   []FulfillmentProjection `json:"fulfillments"`
}

type FulfillmentProjection struct {
	ID               string          `json:"fulfillment_id"`
	SubmitterHandle  string          `json:"submitter_handle"`
	SubmitterAddress string          `json:"submitter_address"`
	Accepted         bool            `json:"accepted"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Network holds the endpoints for one chain.
type Network struct {
	Name       string
	RPCURL     string
	IndexerURL string
}
