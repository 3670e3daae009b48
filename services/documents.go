package services

import "context"

// DocumentVerifier checks that a signed document referenced by a claim was uploaded.
type DocumentVerifier interface {
	Exists(ctx context.Context, key string) (bool, error)
}
