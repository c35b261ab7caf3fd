package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assetsNamed(names ...string) []Asset {
	out := make([]Asset, len(names))
	for i, n := range names {
		out[i] = Asset{Name: n}
	}
	return out
}

func byName(assets []Asset) map[string]Asset {
	m := make(map[string]Asset, len(assets))
	for _, a := range assets {
		m[a.Name] = a
	}
	return m
}

func TestMatchAssetsEmulationFallback(t *testing.T) {
	assets := assetsNamed(
		"tool-windows-amd64.zip",
		"tool-windows-386.zip",
		"tool-linux-amd64.tar.gz",
		"tool-windows-amd64.zip.sha256",
		"checksums.txt",
	)
	MatchAssets(assets, Platform{OS: "windows", Arch: "arm64"})
	got := byName(assets)

	assert.Equal(t, Emulated, got["tool-windows-amd64.zip"].Match)
	assert.True(t, got["tool-windows-amd64.zip"].Recommended, "best emulated wins when nothing is native")
	assert.Equal(t, Emulated, got["tool-windows-386.zip"].Match)
	assert.False(t, got["tool-windows-386.zip"].Recommended)
	assert.Equal(t, NoMatch, got["tool-linux-amd64.tar.gz"].Match)
	assert.Equal(t, NoMatch, got["tool-windows-amd64.zip.sha256"].Match)
	assert.Equal(t, NoMatch, got["checksums.txt"].Match)
}

func TestMatchAssetsNativePreferred(t *testing.T) {
	assets := assetsNamed(
		"tool-windows-386.zip",
		"tool_Windows_x86_64.zip",
	)
	MatchAssets(assets, Platform{OS: "windows", Arch: "amd64"})
	got := byName(assets)

	assert.Equal(t, Native, got["tool_Windows_x86_64.zip"].Match)
	assert.True(t, got["tool_Windows_x86_64.zip"].Recommended)
	assert.Equal(t, Emulated, got["tool-windows-386.zip"].Match)
	assert.False(t, got["tool-windows-386.zip"].Recommended)
}

func TestMatchAssetsDarwin(t *testing.T) {
	assets := assetsNamed(
		"tool-darwin-arm64.tar.gz",
		"tool-macos-x86_64.tar.gz",
		"tool-linux-arm64.tar.gz",
	)
	MatchAssets(assets, Platform{OS: "darwin", Arch: "arm64"})
	got := byName(assets)

	assert.Equal(t, Native, got["tool-darwin-arm64.tar.gz"].Match)
	assert.True(t, got["tool-darwin-arm64.tar.gz"].Recommended)
	assert.Equal(t, Emulated, got["tool-macos-x86_64.tar.gz"].Match)
	assert.Equal(t, NoMatch, got["tool-linux-arm64.tar.gz"].Match)
}

func TestMatchAssetsUniversalAndExtensions(t *testing.T) {
	assets := assetsNamed("Tool-universal.dmg", "Tool-Setup.exe")
	MatchAssets(assets, Platform{OS: "darwin", Arch: "arm64"})
	got := byName(assets)
	assert.Equal(t, Native, got["Tool-universal.dmg"].Match)
	assert.True(t, got["Tool-universal.dmg"].Recommended)
	assert.Equal(t, NoMatch, got["Tool-Setup.exe"].Match)

	MatchAssets(assets, Platform{OS: "windows", Arch: "amd64"})
	got = byName(assets)
	assert.Equal(t, Native, got["Tool-Setup.exe"].Match, "arch-less installer counts as native")
	assert.True(t, got["Tool-Setup.exe"].Recommended)
	assert.False(t, got["Tool-universal.dmg"].Recommended)
}

func TestMatchAssetsNoEmulationOnLinux(t *testing.T) {
	assets := assetsNamed("tool-linux-amd64.tar.gz", "tool-linux-aarch64.AppImage")
	MatchAssets(assets, Platform{OS: "linux", Arch: "arm64"})
	got := byName(assets)

	assert.Equal(t, NoMatch, got["tool-linux-amd64.tar.gz"].Match)
	assert.Equal(t, Native, got["tool-linux-aarch64.AppImage"].Match)
	assert.True(t, got["tool-linux-aarch64.AppImage"].Recommended)
}

func TestMatchAssetsNothingMatches(t *testing.T) {
	assets := assetsNamed("tool-freebsd-amd64.tar.gz", "README.md")
	MatchAssets(assets, Platform{OS: "linux", Arch: "amd64"})
	for _, a := range assets {
		assert.Equal(t, NoMatch, a.Match, a.Name)
		assert.False(t, a.Recommended, a.Name)
	}

	_, ok := Release{Assets: assets}.Recommended()
	assert.False(t, ok)
}

func TestAssetTarget(t *testing.T) {
	tests := []struct {
		name, os, arch string
	}{
		{"app-win64.zip", "windows", "amd64"},
		{"app-win32.zip", "windows", "386"},
		{"app_1.0_amd64.deb", "linux", "amd64"},
		{"app-x86-64-linux.tar.gz", "linux", "amd64"},
		{"app-armhf-linux.tar.gz", "linux", "arm"},
		{"app.tar.gz", "", ""},
	}
	for _, tt := range tests {
		osName, arch := assetTarget(tt.name)
		assert.Equal(t, tt.os, osName, tt.name)
		assert.Equal(t, tt.arch, arch, tt.name)
	}
}
