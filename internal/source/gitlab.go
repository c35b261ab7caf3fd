package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"launcher-go/internal/transport"
)

const defaultGitLabURL = "https://gitlab.com"

// GitLabProvider talks to the GitLab REST v4 API of one instance.
type GitLabProvider struct {
	client  *transport.Client
	baseURL string
	token   string
}

// NewGitLabProvider returns a provider for the instance at baseURL. An
// empty baseURL selects gitlab.com.
func NewGitLabProvider(client *transport.Client, baseURL, token string) *GitLabProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultGitLabURL
	}
	return &GitLabProvider{client: client, baseURL: baseURL, token: token}
}

func (g *GitLabProvider) Kind() ProviderKind { return GitLab }

func (g *GitLabProvider) header() http.Header {
	h := http.Header{}
	if g.token != "" {
		h.Set("Authorization", "Bearer "+g.token)
	}
	return h
}

// projectURL encodes the full namespace path as a single segment.
func (g *GitLabProvider) projectURL(ref Reference) string {
	id := strings.ReplaceAll(url.PathEscape(ref.Path), "/", "%2F")
	return g.baseURL + "/api/v4/projects/" + id
}

type gitlabProject struct {
	PathWithNamespace string `json:"path_with_namespace"`
	Description       string `json:"description"`
	DefaultBranch     string `json:"default_branch"`
	WebURL            string `json:"web_url"`
	Visibility        string `json:"visibility"`
}

func (g *GitLabProvider) Repository(ctx context.Context, ref Reference) (*RepoInfo, error) {
	var p gitlabProject
	if err := g.client.GetJSON(ctx, g.projectURL(ref), g.header(), &p); err != nil {
		return nil, providerError("gitlab", "project "+ref.Path, err)
	}
	return &RepoInfo{
		Provider:      GitLab,
		FullName:      p.PathWithNamespace,
		Description:   p.Description,
		DefaultBranch: p.DefaultBranch,
		WebURL:        p.WebURL,
		Private:       p.Visibility != "" && p.Visibility != "public",
	}, nil
}

type gitlabRelease struct {
	TagName         string    `json:"tag_name"`
	Name            string    `json:"name"`
	ReleasedAt      time.Time `json:"released_at"`
	UpcomingRelease bool      `json:"upcoming_release"`
	Assets          struct {
		Links []struct {
			Name           string `json:"name"`
			URL            string `json:"url"`
			DirectAssetURL string `json:"direct_asset_url"`
		} `json:"links"`
	} `json:"assets"`
}

// Releases lists releases with their asset links. GitLab does not report
// asset sizes, so Size is 0.
func (g *GitLabProvider) Releases(ctx context.Context, ref Reference) ([]Release, error) {
	var raw []gitlabRelease
	if err := g.client.GetJSON(ctx, g.projectURL(ref)+"/releases?per_page=100", g.header(), &raw); err != nil {
		return nil, providerError("gitlab", "releases of "+ref.Path, err)
	}

	releases := make([]Release, 0, len(raw))
	for _, r := range raw {
		rel := Release{
			Tag:         r.TagName,
			Name:        r.Name,
			Prerelease:  r.UpcomingRelease,
			PublishedAt: r.ReleasedAt,
		}
		for _, l := range r.Assets.Links {
			link := l.DirectAssetURL
			if link == "" {
				link = l.URL
			}
			rel.Assets = append(rel.Assets, Asset{
				Name:       l.Name,
				URL:        link,
				Provider:   GitLab,
				Repository: ref.Path,
				Tag:        r.TagName,
			})
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

func (g *GitLabProvider) Branches(ctx context.Context, ref Reference) ([]string, error) {
	var raw []namedRef
	if err := g.client.GetJSON(ctx, g.projectURL(ref)+"/repository/branches?per_page=100", g.header(), &raw); err != nil {
		return nil, providerError("gitlab", "branches of "+ref.Path, err)
	}
	return names(raw), nil
}

func (g *GitLabProvider) Tags(ctx context.Context, ref Reference) ([]string, error) {
	var raw []namedRef
	if err := g.client.GetJSON(ctx, g.projectURL(ref)+"/repository/tags?per_page=100", g.header(), &raw); err != nil {
		return nil, providerError("gitlab", "tags of "+ref.Path, err)
	}
	return names(raw), nil
}

// ArchiveURL returns the repository archive endpoint for gitRef.
func (g *GitLabProvider) ArchiveURL(ref Reference, gitRef string, format ArchiveFormat) (string, error) {
	switch format {
	case FormatZip, FormatTarGz, FormatTarBz, FormatTar:
	default:
		return "", fmt.Errorf("%w: gitlab does not serve %q", ErrUnsupportedFormat, format)
	}
	return fmt.Sprintf("%s/repository/archive.%s?sha=%s", g.projectURL(ref), format, url.QueryEscape(gitRef)), nil
}
