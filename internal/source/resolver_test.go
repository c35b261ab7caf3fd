package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launcher-go/internal/transport"
)

func testClient() *transport.Client {
	opts := transport.DefaultOptions()
	opts.RetryAttempts = 0
	return transport.NewClient(opts)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/repos/acme/tool", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		writeJSON(t, w, map[string]any{
			"full_name":      "acme/tool",
			"description":    "A tool",
			"default_branch": "main",
			"html_url":       "https://github.com/acme/tool",
		})
	})
	mux.HandleFunc("/repos/acme/tool/releases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"tag_name": "v3.0.0", "draft": true},
			{"tag_name": "v2.0.0-rc1", "prerelease": true},
			{"tag_name": "v1.9.0", "assets": []map[string]any{}},
			{
				"tag_name":     "v1.10.0",
				"name":         "Tool 1.10",
				"published_at": "2025-03-01T10:00:00Z",
				"assets": []map[string]any{
					{"name": "tool-linux-amd64.tar.gz", "browser_download_url": "https://dl.example.com/tool-linux-amd64.tar.gz", "size": 1200},
					{"name": "tool-windows-amd64.zip", "browser_download_url": "https://dl.example.com/tool-windows-amd64.zip", "size": 1300},
					{"name": "checksums.txt", "browser_download_url": "https://dl.example.com/checksums.txt", "size": 80},
				},
			},
		})
	})
	mux.HandleFunc("/repos/acme/tool/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]string{{"name": "nightly"}, {"name": "v1.2.0"}, {"name": "v1.10.0"}, {"name": "v0.9"}})
	})
	mux.HandleFunc("/repos/acme/tool/branches", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]string{{"name": "main"}, {"name": "dev"}})
	})
	mux.HandleFunc("/repos/acme/private", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]any{"full_name": "acme/private", "private": true, "default_branch": "trunk"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	return httptest.NewServer(mux)
}

func TestResolverValidate(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	r := NewResolver(testClient(), WithGitHub(server.URL, ""))

	info, err := r.Validate(context.Background(), "acme/tool")
	require.NoError(t, err)
	assert.Equal(t, "acme/tool", info.FullName)
	assert.Equal(t, "main", info.DefaultBranch)
	assert.Equal(t, GitHub, info.Provider)

	_, err = r.Validate(context.Background(), "acme/missing")
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = r.Validate(context.Background(), "not a reference")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestResolverAuthentication(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	anonymous := NewResolver(testClient(), WithGitHub(server.URL, ""))
	_, err := anonymous.Validate(context.Background(), "github:acme/private")

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "github", authErr.Provider)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)

	authed := NewResolver(testClient(), WithGitHub(server.URL, "good"))
	info, err := authed.Validate(context.Background(), "github:acme/private")
	require.NoError(t, err)
	assert.True(t, info.Private)
}

func TestResolverReleases(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	r := NewResolver(testClient(),
		WithGitHub(server.URL, ""),
		WithPlatform(Platform{OS: "windows", Arch: "amd64"}),
	)

	releases, err := r.Releases(context.Background(), "acme/tool")
	require.NoError(t, err)
	require.Len(t, releases, 4)

	latest, err := r.LatestRelease(context.Background(), "acme/tool")
	require.NoError(t, err)
	assert.Equal(t, "v1.10.0", latest.Tag)
	assert.Equal(t, "Tool 1.10", latest.Name)

	asset, ok := latest.Recommended()
	require.True(t, ok)
	assert.Equal(t, "tool-windows-amd64.zip", asset.Name)
	assert.Equal(t, Native, asset.Match)
	assert.Equal(t, "acme/tool", asset.Repository)
	assert.Equal(t, "v1.10.0", asset.Tag)

	desc, err := r.ResolveRelease(asset)
	require.NoError(t, err)
	assert.Equal(t, KindReleaseAsset, desc.Kind())
	assert.Equal(t, "https://dl.example.com/tool-windows-amd64.zip", desc.URL())
	assert.Equal(t, int64(1300), desc.Size())
	assert.Equal(t, "github", desc.Provider())
	assert.Equal(t, "tool-windows-amd64.zip", desc.FileName())

	_, err = r.ResolveRelease(Asset{Name: "broken"})
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestResolverTagsAndBranches(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	r := NewResolver(testClient(), WithGitHub(server.URL, ""))

	tags, err := r.Tags(context.Background(), "acme/tool")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.10.0", "v1.2.0", "v0.9", "nightly"}, tags)

	branches, err := r.Branches(context.Background(), "acme/tool")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "dev"}, branches)
}

func TestResolverGitHubArchive(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	r := NewResolver(testClient(), WithGitHub(server.URL, ""))

	desc, err := r.ResolveArchive(context.Background(), "acme/tool", "", FormatZip)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/acme/tool/archive/main.zip", desc.URL())
	assert.Equal(t, "main", desc.Ref)
	assert.Equal(t, "tool-main.zip", desc.FileName())

	desc, err = r.ResolveArchive(context.Background(), "acme/tool", "release/1.x", FormatTarGz)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/acme/tool/archive/release/1.x.tar.gz", desc.URL())

	_, err = r.ResolveArchive(context.Background(), "acme/tool", "v1", FormatTarBz)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResolverDefaultGitHubArchiveHost(t *testing.T) {
	p := NewGitHubProvider(testClient(), "", "")
	u, err := p.ArchiveURL(Reference{Provider: GitHub, Path: "o/r"}, "v1.0", FormatZip)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/o/r/archive/v1.0.zip", u)
}

func fakeGitLab(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer glpat", r.Header.Get("Authorization"))
		switch r.URL.EscapedPath() {
		case "/api/v4/projects/group%2Fsub%2Fproject":
			writeJSON(t, w, map[string]any{
				"path_with_namespace": "group/sub/project",
				"default_branch":      "master",
				"visibility":          "internal",
			})
		case "/api/v4/projects/group%2Fsub%2Fproject/releases":
			writeJSON(t, w, []map[string]any{{
				"tag_name":    "v0.3.0",
				"released_at": "2025-01-02T00:00:00Z",
				"assets": map[string]any{"links": []map[string]any{
					{"name": "project-linux-x86_64.AppImage", "url": "https://gl.example.com/u/1", "direct_asset_url": "https://gl.example.com/d/1"},
				}},
			}})
		case "/api/v4/projects/group%2Fsub%2Fproject/repository/tags":
			writeJSON(t, w, []map[string]string{{"name": "v0.2.0"}, {"name": "v0.3.0"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestResolverGitLab(t *testing.T) {
	server := fakeGitLab(t)
	defer server.Close()

	r := NewResolver(testClient(),
		WithGitLab(server.URL, "glpat"),
		WithPlatform(Platform{OS: "linux", Arch: "amd64"}),
	)

	info, err := r.Validate(context.Background(), "gitlab:group/sub/project")
	require.NoError(t, err)
	assert.Equal(t, "master", info.DefaultBranch)
	assert.True(t, info.Private)

	// A URL on the configured instance reuses its token.
	_, err = r.Validate(context.Background(), server.URL+"/group/sub/project")
	require.NoError(t, err)

	releases, err := r.Releases(context.Background(), "gitlab:group/sub/project")
	require.NoError(t, err)
	require.Len(t, releases, 1)
	asset, ok := releases[0].Recommended()
	require.True(t, ok)
	assert.Equal(t, "https://gl.example.com/d/1", asset.URL)
	assert.Equal(t, GitLab, asset.Provider)

	tags, err := r.Tags(context.Background(), "gitlab:group/sub/project")
	require.NoError(t, err)
	assert.Equal(t, []string{"v0.3.0", "v0.2.0"}, tags)

	desc, err := r.ResolveArchive(context.Background(), "gitlab:group/sub/project", "", FormatTarBz)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/api/v4/projects/group%2Fsub%2Fproject/repository/archive.tar.bz2?sha=master", desc.URL())
	assert.Equal(t, "gitlab", desc.Provider())
	assert.Equal(t, "project-master.tar.bz2", desc.FileName())

	_, err = r.ResolveArchive(context.Background(), "gitlab:group/sub/project", "master", ArchiveFormat("7z"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResolveURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.bin" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", "2048")
		w.Header().Set("Accept-Ranges", "bytes")
	}))
	defer server.Close()

	r := NewResolver(testClient())

	desc, err := r.ResolveURL(context.Background(), server.URL+"/files/app.zip")
	require.NoError(t, err)
	assert.Equal(t, "app.zip", desc.FileName())
	assert.Equal(t, int64(2048), desc.Size())
	assert.True(t, desc.ResumeHint())
	assert.Equal(t, "", desc.Provider())

	desc, err = r.ResolveURL(context.Background(), server.URL+"/missing.bin")
	require.NoError(t, err, "probe failures are not fatal")
	assert.Equal(t, "missing.bin", desc.FileName())
	assert.Equal(t, int64(0), desc.Size())

	_, err = r.ResolveURL(context.Background(), "ftp://example.com/file")
	assert.ErrorIs(t, err, ErrInvalidReference)
}
