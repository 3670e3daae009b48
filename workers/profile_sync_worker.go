package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"bounty-board/models"
	"bounty-board/repository"
)

// RemoteProfile matches the JSON the profile service returns.
type RemoteProfile struct {
	ExternalID      string    `json:"external_id"`
	Username        string    `json:"username"`
	PayoutAddress   string    `json:"payout_address"`
	MaxActiveClaims int       `json:"max_active_claims"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Profiles []RemoteProfile `json:"profiles"`
}

// ProfileSyncWorker mirrors actor profiles (handle, claim ceiling) from the profile
// service into the local profiles table.
type ProfileSyncWorker struct {
	store        repository.Store
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewProfileSyncWorker(store repository.Store, baseURL, endpointPath, serviceToken string, interval time.Duration) *ProfileSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ProfileSyncWorker{
		store:        store,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting profile sync worker (profile service → profiles)…")
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		log.Printf("[PROFILE_SYNC] ⚠️ initial sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				log.Printf("[PROFILE_SYNC] ❌ sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Profile sync worker stopped")
			return
		}
	}
}

// SyncOnce pulls every profile changed since the newest local one.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context) error {
	since, err := w.store.LastProfileUpdate(ctx)
	if err != nil {
		return fmt.Errorf("read last profile update: %w", err)
	}
	profiles, err := w.fetch(ctx, since)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		log.Printf("[PROFILE_SYNC] ✅ no profile changes since %s", since.UTC().Format(time.RFC3339))
		return nil
	}

	var upserted, failed int
	for _, remote := range profiles {
		if remote.ExternalID == "" {
			failed++
			continue
		}
		p := models.Profile{
			ExternalUserID:  remote.ExternalID,
			Handle:          models.NormalizeHandle(remote.Username),
			PayoutAddress:   remote.PayoutAddress,
			MaxActiveClaims: remote.MaxActiveClaims,
			CreatedAt:       remote.CreatedAt,
			UpdatedAt:       remote.UpdatedAt,
		}
		if err := w.store.UpsertProfile(ctx, &p); err != nil {
			failed++
			log.Printf("[PROFILE_SYNC] ⚠️ failed to upsert profile external_id=%q: %v", remote.ExternalID, err)
			continue
		}
		upserted++
	}
	log.Printf("[PROFILE_SYNC] ✅ synced %d profile(s) (%d upserted, %d errors)", len(profiles), upserted, failed)
	return nil
}

func (w *ProfileSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode profile service response: %w", err)
	}
	return out.Profiles, nil
}
