package source

import (
	"fmt"
	"strings"
)

// Kind names a descriptor variant.
type Kind string

const (
	KindGeneric       Kind = "generic"
	KindReleaseAsset  Kind = "release_asset"
	KindSourceArchive Kind = "source_archive"
)

// Descriptor is a resolved pointer to downloadable bytes. The set of
// implementations is closed: Generic, ReleaseAsset and SourceArchive.
type Descriptor interface {
	Kind() Kind
	URL() string
	// FileName is the suggested local file name.
	FileName() string
	// Size is the expected byte count, 0 when unknown.
	Size() int64
	// Provider is "github", "gitlab" or empty for plain URLs.
	Provider() string
	// ResumeHint reports whether ranged requests are expected to work.
	// The transfer response has the final word.
	ResumeHint() bool

	sealed()
}

// Generic is a direct URL.
type Generic struct {
	Location      string
	Name          string
	Length        int64
	AcceptsRanges bool
}

func (g Generic) Kind() Kind { return KindGeneric }
func (g Generic) URL() string { return g.Location }
func (g Generic) Size() int64 { return g.Length }
func (g Generic) Provider() string { return "" }
func (g Generic) ResumeHint() bool { return g.AcceptsRanges }
func (g Generic) FileName() string { return sanitizeFileName(g.Name, "download") }
func (g Generic) sealed() {}

// ReleaseAsset is a file attached to a GitHub or GitLab release.
type ReleaseAsset struct {
	Location     string
	Name         string
	Length       int64
	ProviderName string
	Repository   string
	Tag          string
}

func (a ReleaseAsset) Kind() Kind { return KindReleaseAsset }
func (a ReleaseAsset) URL() string { return a.Location }
func (a ReleaseAsset) Size() int64 { return a.Length }
func (a ReleaseAsset) Provider() string { return a.ProviderName }
func (a ReleaseAsset) ResumeHint() bool { return true }
func (a ReleaseAsset) FileName() string { return sanitizeFileName(a.Name, "asset") }
func (a ReleaseAsset) sealed() {}

// SourceArchive is a repository snapshot generated by the provider. The
// archive is built on request, so its size is unknown and ranges are not
// expected to work.
type SourceArchive struct {
	Location     string
	ProviderName string
	Repository   string
	Ref          string
	Format       ArchiveFormat
}

func (s SourceArchive) Kind() Kind { return KindSourceArchive }
func (s SourceArchive) URL() string { return s.Location }
func (s SourceArchive) Size() int64 { return 0 }
func (s SourceArchive) Provider() string { return s.ProviderName }
func (s SourceArchive) ResumeHint() bool { return false }
func (s SourceArchive) sealed() {}

func (s SourceArchive) FileName() string {
	repo := s.Repository
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		repo = repo[i+1:]
	}
	ref := strings.NewReplacer("/", "-", "\\", "-").Replace(s.Ref)
	return sanitizeFileName(fmt.Sprintf("%s-%s.%s", repo, ref, s.Format), "archive")
}

// ArchiveFormat is a source archive encoding.
type ArchiveFormat string

const (
	FormatZip   ArchiveFormat = "zip"
	FormatTarGz ArchiveFormat = "tar.gz"
	FormatTarBz ArchiveFormat = "tar.bz2"
	FormatTar   ArchiveFormat = "tar"
)

func sanitizeFileName(name, fallback string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	if name == "" || name == "." || name == ".." {
		return fallback
	}
	return name
}
