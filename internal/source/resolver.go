package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"launcher-go/internal/transport"
)

// Resolver turns references into descriptors. It never touches task state.
type Resolver struct {
	client   *transport.Client
	github   *GitHubProvider
	gitlab   *GitLabProvider
	glHost   string
	platform Platform
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPlatform overrides the platform used for asset matching.
func WithPlatform(p Platform) Option {
	return func(r *Resolver) {
		r.platform = p
	}
}

// WithGitHub sets the API endpoint and token used for GitHub references.
func WithGitHub(apiURL, token string) Option {
	return func(r *Resolver) {
		r.github = NewGitHubProvider(r.client, apiURL, token)
	}
}

// WithGitLab sets the default GitLab instance and its token. The token is
// only sent to that instance, never to self-hosted hosts named by a
// reference URL.
func WithGitLab(baseURL, token string) Option {
	return func(r *Resolver) {
		r.gitlab = NewGitLabProvider(r.client, baseURL, token)
	}
}

// NewResolver creates a Resolver that issues requests through client.
func NewResolver(client *transport.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client:   client,
		platform: CurrentPlatform(),
		logger:   slog.Default(),
	}
	r.github = NewGitHubProvider(client, "", "")
	r.gitlab = NewGitLabProvider(client, "", "")

	for _, opt := range opts {
		opt(r)
	}

	r.glHost = hostOf(r.gitlab.baseURL)
	return r
}

// Platform returns the platform assets are matched against.
func (r *Resolver) Platform() Platform {
	return r.platform
}

func (r *Resolver) provider(ref Reference) Provider {
	if ref.Provider == GitHub {
		return r.github
	}
	if ref.BaseURL == "" || hostOf(ref.BaseURL) == r.glHost {
		return r.gitlab
	}
	return NewGitLabProvider(r.client, ref.BaseURL, "")
}

func (r *Resolver) parse(reference string) (Reference, Provider, error) {
	ref, err := ParseReference(reference)
	if err != nil {
		return Reference{}, nil, err
	}
	return ref, r.provider(ref), nil
}

// Validate parses reference and confirms the repository exists.
func (r *Resolver) Validate(ctx context.Context, reference string) (*RepoInfo, error) {
	ref, p, err := r.parse(reference)
	if err != nil {
		return nil, err
	}

	info, err := p.Repository(ctx, ref)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found", ErrInvalidReference, ref)
		}
		return nil, err
	}
	r.logger.Debug("repository validated", "reference", ref.String(), "default_branch", info.DefaultBranch)
	return info, nil
}

// ResolveURL turns a plain http(s) URL into a Generic descriptor. A HEAD
// probe fills size, range support and file name when the server answers;
// probe failures are not errors.
func (r *Resolver) ResolveURL(ctx context.Context, raw string) (Generic, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Generic{}, fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidReference, raw)
	}

	desc := Generic{Location: u.String(), Name: path.Base(u.Path)}
	if desc.Name == "/" || desc.Name == "." {
		desc.Name = ""
	}

	info, err := r.client.Head(ctx, desc.Location, nil)
	if err != nil {
		r.logger.Debug("head probe failed", "url", desc.Location, "error", err)
		return desc, nil
	}
	desc.Length = info.Size
	desc.AcceptsRanges = info.AcceptsRanges
	if info.Filename != "" {
		desc.Name = info.Filename
	}
	return desc, nil
}

// Releases lists the releases of reference with assets matched against
// the resolver's platform.
func (r *Resolver) Releases(ctx context.Context, reference string) ([]Release, error) {
	ref, p, err := r.parse(reference)
	if err != nil {
		return nil, err
	}

	releases, err := p.Releases(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		MatchAssets(releases[i].Assets, r.platform)
	}
	return releases, nil
}

// LatestRelease returns the highest semver release that is neither a draft
// nor a prerelease. Tags that are not versions lose to any that are; among
// them the provider's order (newest first) wins.
func (r *Resolver) LatestRelease(ctx context.Context, reference string) (*Release, error) {
	releases, err := r.Releases(ctx, reference)
	if err != nil {
		return nil, err
	}

	var (
		best        *Release
		bestVersion *semver.Version
	)
	for i := range releases {
		rel := &releases[i]
		if rel.Draft || rel.Prerelease {
			continue
		}
		v, err := semver.NewVersion(rel.Tag)
		if err != nil {
			if best == nil {
				best = rel
			}
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best, bestVersion = rel, v
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRelease, reference)
	}
	return best, nil
}

// Branches lists branch names of reference.
func (r *Resolver) Branches(ctx context.Context, reference string) ([]string, error) {
	ref, p, err := r.parse(reference)
	if err != nil {
		return nil, err
	}
	return p.Branches(ctx, ref)
}

// Tags lists tag names of reference, semantic versions first in
// descending order, then the rest in provider order.
func (r *Resolver) Tags(ctx context.Context, reference string) ([]string, error) {
	ref, p, err := r.parse(reference)
	if err != nil {
		return nil, err
	}

	tags, err := p.Tags(ctx, ref)
	if err != nil {
		return nil, err
	}
	SortTags(tags)
	return tags, nil
}

// SortTags orders tags by semantic version, highest first. Tags that do
// not parse keep their relative order after the versions.
func SortTags(tags []string) {
	versions := make(map[string]*semver.Version, len(tags))
	for _, t := range tags {
		if v, err := semver.NewVersion(t); err == nil {
			versions[t] = v
		}
	}

	sort.SliceStable(tags, func(i, j int) bool {
		vi, iok := versions[tags[i]]
		vj, jok := versions[tags[j]]
		switch {
		case iok && jok:
			return vi.GreaterThan(vj)
		case iok != jok:
			return iok
		default:
			return false
		}
	})
}

// ResolveRelease turns a listed asset into a descriptor.
func (r *Resolver) ResolveRelease(asset Asset) (ReleaseAsset, error) {
	u, err := url.Parse(asset.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ReleaseAsset{}, fmt.Errorf("%w: asset %q has no download URL", ErrInvalidReference, asset.Name)
	}
	return ReleaseAsset{
		Location:     asset.URL,
		Name:         asset.Name,
		Length:       asset.Size,
		ProviderName: string(asset.Provider),
		Repository:   asset.Repository,
		Tag:          asset.Tag,
	}, nil
}

// ResolveArchive returns a source archive of reference at gitRef. An empty
// gitRef selects the default branch, which costs one metadata request.
func (r *Resolver) ResolveArchive(ctx context.Context, reference, gitRef string, format ArchiveFormat) (SourceArchive, error) {
	ref, p, err := r.parse(reference)
	if err != nil {
		return SourceArchive{}, err
	}

	if _, err := p.ArchiveURL(ref, "HEAD", format); err != nil {
		return SourceArchive{}, err
	}

	if gitRef == "" {
		info, err := p.Repository(ctx, ref)
		if err != nil {
			return SourceArchive{}, err
		}
		gitRef = info.DefaultBranch
		if gitRef == "" {
			return SourceArchive{}, fmt.Errorf("%w: %s has no default branch", ErrInvalidReference, ref)
		}
	}

	location, err := p.ArchiveURL(ref, gitRef, format)
	if err != nil {
		return SourceArchive{}, err
	}
	return SourceArchive{
		Location:     location,
		ProviderName: string(p.Kind()),
		Repository:   ref.Path,
		Ref:          gitRef,
		Format:       format,
	}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
