package source

import (
	"fmt"
	"net/url"
	"strings"
)

// ProviderKind identifies a repository host flavour.
type ProviderKind string

const (
	GitHub ProviderKind = "github"
	GitLab ProviderKind = "gitlab"
)

// Reference is a parsed repository reference.
type Reference struct {
	Provider ProviderKind
	// BaseURL is set for self-hosted GitLab instances. Empty means the
	// configured default host of Provider.
	BaseURL string
	// Path is "owner/repo" on GitHub and the full namespace path on GitLab.
	Path string
}

// Owner returns everything before the last path segment.
func (r Reference) Owner() string {
	i := strings.LastIndex(r.Path, "/")
	if i < 0 {
		return ""
	}
	return r.Path[:i]
}

// Name returns the last path segment.
func (r Reference) Name() string {
	return r.Path[strings.LastIndex(r.Path, "/")+1:]
}

func (r Reference) String() string {
	if r.BaseURL != "" {
		return r.BaseURL + "/" + r.Path
	}
	return string(r.Provider) + ":" + r.Path
}

// ParseReference accepts:
//
//	owner/repo
//	github:owner/repo
//	gitlab:group/subgroup/project
//	https://github.com/owner/repo[.git]
//	https://gitlab.com/group/project
//	https://git.example.com/group/project   (self-hosted GitLab)
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reference{}, fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}

	switch {
	case strings.HasPrefix(s, "github:"):
		return githubPath(strings.TrimPrefix(s, "github:"), s)
	case strings.HasPrefix(s, "gitlab:"):
		return gitlabPath("", strings.TrimPrefix(s, "gitlab:"), s)
	case strings.Contains(s, "://"):
		return parseReferenceURL(s)
	default:
		return githubPath(s, s)
	}
}

func parseReferenceURL(s string) (Reference, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, s, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Reference{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidReference, u.Scheme)
	}
	if u.Host == "" {
		return Reference{}, fmt.Errorf("%w: %q has no host", ErrInvalidReference, s)
	}

	host := strings.ToLower(u.Hostname())
	switch host {
	case "github.com", "www.github.com":
		segs := splitPath(u.Path)
		if len(segs) < 2 {
			return Reference{}, fmt.Errorf("%w: %q needs owner and repository", ErrInvalidReference, s)
		}
		return githubPath(segs[0]+"/"+segs[1], s)
	case "gitlab.com", "www.gitlab.com":
		return gitlabPath("", gitlabProjectPath(u.Path), s)
	default:
		base := u.Scheme + "://" + u.Host
		return gitlabPath(base, gitlabProjectPath(u.Path), s)
	}
}

func githubPath(p, orig string) (Reference, error) {
	segs := splitPath(p)
	if len(segs) != 2 {
		return Reference{}, fmt.Errorf("%w: %q is not owner/repo", ErrInvalidReference, orig)
	}
	for _, seg := range segs {
		if !validSegment(seg) {
			return Reference{}, fmt.Errorf("%w: %q contains invalid characters", ErrInvalidReference, orig)
		}
	}
	return Reference{Provider: GitHub, Path: segs[0] + "/" + segs[1]}, nil
}

func gitlabPath(base, p, orig string) (Reference, error) {
	segs := splitPath(p)
	if len(segs) < 2 {
		return Reference{}, fmt.Errorf("%w: %q needs a group and project", ErrInvalidReference, orig)
	}
	for _, seg := range segs {
		if !validSegment(seg) {
			return Reference{}, fmt.Errorf("%w: %q contains invalid characters", ErrInvalidReference, orig)
		}
	}
	return Reference{Provider: GitLab, BaseURL: base, Path: strings.Join(segs, "/")}, nil
}

// gitlabProjectPath drops the "/-/..." suffix GitLab uses for sub-pages.
func gitlabProjectPath(p string) string {
	if i := strings.Index(p, "/-/"); i >= 0 {
		p = p[:i]
	}
	return p
}

func splitPath(p string) []string {
	var segs []string
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	if n := len(segs); n > 0 {
		segs[n-1] = strings.TrimSuffix(segs[n-1], ".git")
	}
	return segs
}

func validSegment(seg string) bool {
	if seg == "" || seg == "." || seg == ".." {
		return false
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
