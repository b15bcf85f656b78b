package app

import "errors"

var (
	// ErrBookNotFound indicates the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")
	// ErrStoreUnavailable indicates the data gateway failed on a read.
	ErrStoreUnavailable = errors.New("catalog temporarily unavailable")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMagicLinkInvalid indicates an expired, consumed or unknown login token.
	ErrMagicLinkInvalid = errors.New("magic link invalid or expired")
	// ErrMediaUnavailable indicates no generative media provider is configured.
	ErrMediaUnavailable = errors.New("media generation not configured")
	// ErrDraftNotFound indicates a missing or expired generated-media draft.
	ErrDraftNotFound = errors.New("draft not found")
	// ErrJobNotFound indicates a missing or expired video generation job.
	ErrJobNotFound = errors.New("job not found")
)
