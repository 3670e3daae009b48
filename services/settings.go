package services

import "time"

// Settings carries the tunables shared by the lifecycle, claim and reconciliation services.
type Settings struct {
	DefaultMaxActiveClaims int
	MaxRemarkets           int
	RemarketCooldown       time.Duration
	BaseURL                string
	// DefaultNetwork is used for sync requests that name no network.
	DefaultNetwork string
	Retry          RetryPolicy
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func DefaultSettings() Settings {
	return Settings{
		DefaultMaxActiveClaims: 3,
		MaxRemarkets:           2,
		RemarketCooldown:       30 * time.Minute,
		BaseURL:                "http://localhost:5300",
		Retry:                  DefaultRetryPolicy(),
	}
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
