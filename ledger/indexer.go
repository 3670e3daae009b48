package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// IndexerClient talks to the escrow indexer service, which maps issue URLs to on-chain
// bounty ids and serves decoded bounty state.
type IndexerClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewIndexerClient(baseURL, token string) *IndexerClient {
	return &IndexerClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ResolveBountyID returns the newest on-chain bounty id for issueURL.
func (c *IndexerClient) ResolveBountyID(ctx context.Context, issueURL string) (string, error) {
	var out struct {
		BountyID string `json:"bounty_id"`
	}
	if err := c.get(ctx, "/api/v1/bounties/resolve", url.Values{"issue_url": {issueURL}}, &out); err != nil {
		return "", err
	}
	if out.BountyID == "" {
		return "", ErrBountyNotFound
	}
	return out.BountyID, nil
}

func (c *IndexerClient) FetchBounty(ctx context.Context, ledgerID string) (*Projection, error) {
	var p Projection
	if err := c.get(ctx, "/api/v1/bounties/"+url.PathEscape(ledgerID), nil, &p); err != nil {
		return nil, err
	}
	if p.LedgerID == "" {
		p.LedgerID = ledgerID
	}
	return &p, nil
}

func (c *IndexerClient) get(ctx context.Context, path string, query url.Values, into any) error {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid indexer URL '%s': %w", c.BaseURL, err)
	}
	u := base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call indexer: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrBountyNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("indexer returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to decode indexer response: %w", err)
	}
	return nil
}
