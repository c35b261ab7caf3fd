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

const defaultGitHubAPI = "https://api.github.com"

// GitHubProvider talks to the GitHub REST v3 API.
type GitHubProvider struct {
	client *transport.Client
	apiURL string
	webURL string
	token  string
}

// NewGitHubProvider returns a provider for apiURL. An empty apiURL selects
// api.github.com. GitHub Enterprise hosts use "<host>/api/v3".
func NewGitHubProvider(client *transport.Client, apiURL, token string) *GitHubProvider {
	apiURL = strings.TrimRight(apiURL, "/")
	if apiURL == "" {
		apiURL = defaultGitHubAPI
	}

	webURL := "https://github.com"
	if apiURL != defaultGitHubAPI {
		webURL = strings.TrimSuffix(apiURL, "/api/v3")
	}

	return &GitHubProvider{client: client, apiURL: apiURL, webURL: webURL, token: token}
}

func (g *GitHubProvider) Kind() ProviderKind { return GitHub }

func (g *GitHubProvider) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	if g.token != "" {
		h.Set("Authorization", "Bearer "+g.token)
	}
	return h
}

func (g *GitHubProvider) repoURL(ref Reference) string {
	return g.apiURL + "/repos/" + ref.Path
}

type githubRepo struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	Private       bool   `json:"private"`
}

func (g *GitHubProvider) Repository(ctx context.Context, ref Reference) (*RepoInfo, error) {
	var repo githubRepo
	if err := g.client.GetJSON(ctx, g.repoURL(ref), g.header(), &repo); err != nil {
		return nil, providerError("github", "repository "+ref.Path, err)
	}
	return &RepoInfo{
		Provider:      GitHub,
		FullName:      repo.FullName,
		Description:   repo.Description,
		DefaultBranch: repo.DefaultBranch,
		WebURL:        repo.HTMLURL,
		Private:       repo.Private,
	}, nil
}

type githubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
		ContentType        string `json:"content_type"`
	} `json:"assets"`
}

func (g *GitHubProvider) Releases(ctx context.Context, ref Reference) ([]Release, error) {
	var raw []githubRelease
	if err := g.client.GetJSON(ctx, g.repoURL(ref)+"/releases?per_page=100", g.header(), &raw); err != nil {
		return nil, providerError("github", "releases of "+ref.Path, err)
	}

	releases := make([]Release, 0, len(raw))
	for _, r := range raw {
		rel := Release{
			Tag:         r.TagName,
			Name:        r.Name,
			Draft:       r.Draft,
			Prerelease:  r.Prerelease,
			PublishedAt: r.PublishedAt,
		}
		for _, a := range r.Assets {
			rel.Assets = append(rel.Assets, Asset{
				Name:        a.Name,
				URL:         a.BrowserDownloadURL,
				Size:        a.Size,
				ContentType: a.ContentType,
				Provider:    GitHub,
				Repository:  ref.Path,
				Tag:         r.TagName,
			})
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

type namedRef struct {
	Name string `json:"name"`
}

func (g *GitHubProvider) Branches(ctx context.Context, ref Reference) ([]string, error) {
	var raw []namedRef
	if err := g.client.GetJSON(ctx, g.repoURL(ref)+"/branches?per_page=100", g.header(), &raw); err != nil {
		return nil, providerError("github", "branches of "+ref.Path, err)
	}
	return names(raw), nil
}

func (g *GitHubProvider) Tags(ctx context.Context, ref Reference) ([]string, error) {
	var raw []namedRef
	if err := g.client.GetJSON(ctx, g.repoURL(ref)+"/tags?per_page=100", g.header(), &raw); err != nil {
		return nil, providerError("github", "tags of "+ref.Path, err)
	}
	return names(raw), nil
}

// ArchiveURL returns the codeload URL for gitRef. GitHub serves zip and
// tar.gz only.
func (g *GitHubProvider) ArchiveURL(ref Reference, gitRef string, format ArchiveFormat) (string, error) {
	switch format {
	case FormatZip, FormatTarGz:
	default:
		return "", fmt.Errorf("%w: github does not serve %q", ErrUnsupportedFormat, format)
	}
	return fmt.Sprintf("%s/%s/archive/%s.%s", g.webURL, ref.Path, escapeRef(gitRef), format), nil
}

func names(raw []namedRef) []string {
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		out = append(out, n.Name)
	}
	return out
}

// escapeRef escapes each segment of a branch or tag name.
func escapeRef(ref string) string {
	segs := strings.Split(ref, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
