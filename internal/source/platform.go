package source

import (
	"runtime"
	"strings"
)

// Platform is an OS/architecture pair in GOOS/GOARCH terms.
type Platform struct {
	OS   string
	Arch string
}

// CurrentPlatform returns the platform the process runs on.
func CurrentPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// MatchKind says how an asset relates to the running platform.
type MatchKind int

const (
	NoMatch MatchKind = iota
	Native
	// Emulated assets run through the host's translation layer, for
	// example amd64 binaries on Windows or macOS arm64.
	Emulated
)

func (m MatchKind) String() string {
	switch m {
	case Native:
		return "native"
	case Emulated:
		return "emulated"
	default:
		return "none"
	}
}

// emulationFallbacks lists, in order of preference, the architectures a
// platform can run besides its own.
var emulationFallbacks = map[Platform][]string{
	{OS: "windows", Arch: "arm64"}: {"amd64", "386"},
	{OS: "darwin", Arch: "arm64"}:  {"amd64"},
	{OS: "windows", Arch: "amd64"}: {"386"},
}

var osAliases = map[string]string{
	"windows": "windows",
	"win":     "windows",
	"win32":   "windows",
	"win64":   "windows",
	"linux":   "linux",
	"darwin":  "darwin",
	"macos":   "darwin",
	"mac":     "darwin",
	"osx":     "darwin",
	"apple":   "darwin",
	"freebsd": "freebsd",
}

var archAliases = map[string]string{
	"amd64":   "amd64",
	"x64":     "amd64",
	"win64":   "amd64",
	"arm64":   "arm64",
	"aarch64": "arm64",
	"386":     "386",
	"i386":    "386",
	"i686":    "386",
	"x86":     "386",
	"win32":   "386",
	"arm":     "arm",
	"armv7":   "arm",
	"armhf":   "arm",
}

// extensionOS infers the OS from package formats that only exist on one.
var extensionOS = map[string]string{
	".exe":      "windows",
	".msi":      "windows",
	".msix":     "windows",
	".dmg":      "darwin",
	".pkg":      "darwin",
	".deb":      "linux",
	".rpm":      "linux",
	".appimage": "linux",
}

var sidecarSuffixes = []string{
	".sha256", ".sha256sum", ".sha512", ".sha1", ".md5",
	".asc", ".sig", ".pem", ".sbom", ".spdx", ".intoto.jsonl",
}

// isSidecar reports checksum, signature and attestation files.
func isSidecar(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range sidecarSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, "checksums") || lower == "sha256sums" || strings.HasSuffix(lower, "sums.txt")
}

// assetTarget extracts the OS and architecture an asset name is built for.
// Either may be empty. Universal macOS binaries report arch "universal".
func assetTarget(name string) (osName, arch string) {
	lower := strings.ToLower(name)
	for ext, goos := range extensionOS {
		if strings.HasSuffix(lower, ext) {
			osName = goos
			break
		}
	}

	lower = strings.NewReplacer("x86_64", "amd64", "x86-64", "amd64").Replace(lower)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, tok := range tokens {
		if o, ok := osAliases[tok]; ok && osName == "" {
			osName = o
		}
		if a, ok := archAliases[tok]; ok && arch == "" {
			arch = a
		}
		if tok == "universal" || tok == "universal2" {
			arch = "universal"
		}
	}
	return osName, arch
}

// matchAsset classifies name for p and returns a score used to pick the
// recommended asset. Higher is better; 0 means no match.
func matchAsset(name string, p Platform) (MatchKind, int) {
	if isSidecar(name) {
		return NoMatch, 0
	}

	osName, arch := assetTarget(name)
	if osName != p.OS {
		return NoMatch, 0
	}

	score := 10
	kind := Native
	switch {
	case arch == p.Arch:
		score += 10
	case arch == "universal" && p.OS == "darwin":
		score += 8
	case arch == "":
		score += 4
	default:
		kind = NoMatch
		for i, fallback := range emulationFallbacks[p] {
			if arch == fallback {
				kind = Emulated
				score += 3 - i
				break
			}
		}
		if kind == NoMatch {
			return NoMatch, 0
		}
	}

	if preferredExtension(name, p.OS) {
		score++
	}
	return kind, score
}

func preferredExtension(name, goos string) bool {
	lower := strings.ToLower(name)
	var exts []string
	switch goos {
	case "windows":
		exts = []string{".msi", ".exe", ".zip"}
	case "darwin":
		exts = []string{".dmg", ".pkg", ".zip"}
	default:
		exts = []string{".appimage", ".tar.gz", ".tgz"}
	}
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// MatchAssets annotates assets for p in place. The best native asset is
// marked Recommended; an emulated one only when no native asset exists.
func MatchAssets(assets []Asset, p Platform) {
	bestNative, bestEmulated := -1, -1
	scores := make([]int, len(assets))

	for i := range assets {
		kind, score := matchAsset(assets[i].Name, p)
		assets[i].Match = kind
		assets[i].Recommended = false
		scores[i] = score

		switch kind {
		case Native:
			if bestNative < 0 || score > scores[bestNative] {
				bestNative = i
			}
		case Emulated:
			if bestEmulated < 0 || score > scores[bestEmulated] {
				bestEmulated = i
			}
		}
	}

	switch {
	case bestNative >= 0:
		assets[bestNative].Recommended = true
	case bestEmulated >= 0:
		assets[bestEmulated].Recommended = true
	}
}
