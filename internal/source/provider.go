package source

import (
	"context"
	"time"
)

// RepoInfo is repository metadata returned by Validate.
type RepoInfo struct {
	Provider      ProviderKind
	FullName      string
	Description   string
	DefaultBranch string
	WebURL        string
	Private       bool
}

// Release is a published release and its downloadable assets.
type Release struct {
	Tag         string
	Name        string
	Draft       bool
	Prerelease  bool
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is a release file. Match and Recommended are filled by MatchAssets.
type Asset struct {
	Name        string
	URL         string
	Size        int64
	ContentType string

	Provider   ProviderKind
	Repository string
	Tag        string

	Match       MatchKind
	Recommended bool
}

// Recommended returns the recommended asset of r, if any.
func (r Release) Recommended() (Asset, bool) {
	for _, a := range r.Assets {
		if a.Recommended {
			return a, true
		}
	}
	return Asset{}, false
}

// Provider is the read-only API of a repository host.
type Provider interface {
	Kind() ProviderKind
	Repository(ctx context.Context, ref Reference) (*RepoInfo, error)
	Releases(ctx context.Context, ref Reference) ([]Release, error)
	Branches(ctx context.Context, ref Reference) ([]string, error)
	Tags(ctx context.Context, ref Reference) ([]string, error)
	ArchiveURL(ref Reference, gitRef string, format ArchiveFormat) (string, error)
}
