package source

import (
	"errors"
	"fmt"

	"launcher-go/internal/transport"
)

var (
	// ErrInvalidReference is returned for a reference string that does not
	// name a repository, or a URL the engine cannot fetch.
	ErrInvalidReference = errors.New("source: invalid reference")

	// ErrUnsupportedFormat is returned when a provider cannot produce an
	// archive in the requested format.
	ErrUnsupportedFormat = errors.New("source: unsupported archive format")

	// ErrNoRelease is returned by LatestRelease when a repository has no
	// published, non-prerelease release.
	ErrNoRelease = errors.New("source: no published release")
)

// AuthenticationError reports that a provider rejected the credentials, or
// that credentials are required and none were configured.
type AuthenticationError struct {
	Provider string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// providerError annotates err with the provider and, for 401/403 replies,
// wraps it in an AuthenticationError.
func providerError(provider, op string, err error) error {
	if errors.Is(err, transport.ErrUnauthorized) || errors.Is(err, transport.ErrForbidden) {
		return &AuthenticationError{Provider: provider, Err: err}
	}
	return fmt.Errorf("%s: %s: %w", provider, op, err)
}
