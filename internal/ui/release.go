package ui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"launcher-go/internal/config"
	"launcher-go/internal/core"
	"launcher-go/internal/source"
)

// ReleaseDialog browses the releases of a GitHub or GitLab repository and
// queues an asset or a source archive.
type ReleaseDialog struct {
	dialog      dialog.Dialog
	parent      fyne.Window
	scheduler   *core.Scheduler
	resolver    *source.Resolver
	downloadDir string
	callback    func(id string)

	repoEntry     *widget.Entry
	infoLabel     *widget.Label
	releaseSelect *widget.Select
	assetsList    *widget.List
	refEntry      *widget.SelectEntry
	formatSelect  *widget.Select

	repository string
	releases   []source.Release
	assets     []source.Asset
	selected   int
}

func NewReleaseDialog(parent fyne.Window, scheduler *core.Scheduler, resolver *source.Resolver, downloadDir string, callback func(id string)) *ReleaseDialog {
	rd := &ReleaseDialog{
		parent:      parent,
		scheduler:   scheduler,
		resolver:    resolver,
		downloadDir: downloadDir,
		callback:    callback,
		selected:    -1,
	}
	rd.createDialog()
	return rd
}

func (rd *ReleaseDialog) createDialog() {
	rd.repoEntry = widget.NewEntry()
	rd.repoEntry.SetPlaceHolder("owner/repo, github:owner/repo, gitlab:group/project or a repository URL")
	rd.repoEntry.OnSubmitted = func(string) { rd.load() }

	loadButton := widget.NewButton("Load", rd.load)
	repoContainer := container.NewBorder(nil, nil, nil, loadButton, rd.repoEntry)

	rd.infoLabel = widget.NewLabel("")
	rd.infoLabel.Wrapping = fyne.TextWrapWord

	rd.releaseSelect = widget.NewSelect(nil, rd.showRelease)
	rd.releaseSelect.PlaceHolder = "Release"

	rd.assetsList = widget.NewList(
		func() int { return len(rd.assets) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, item fyne.CanvasObject) {
			if id < len(rd.assets) {
				item.(*widget.Label).SetText(describeAsset(rd.assets[id]))
			}
		},
	)
	rd.assetsList.OnSelected = func(id widget.ListItemID) { rd.selected = id }

	assetButton := widget.NewButton("Download Asset", rd.downloadAsset)
	assetButton.Importance = widget.HighImportance

	rd.refEntry = widget.NewSelectEntry(nil)
	rd.refEntry.SetPlaceHolder("Default branch")
	rd.formatSelect = widget.NewSelect([]string{
		string(source.FormatZip),
		string(source.FormatTarGz),
		string(source.FormatTarBz),
		string(source.FormatTar),
	}, nil)
	rd.formatSelect.SetSelected(string(source.FormatZip))

	archiveButton := widget.NewButton("Download Source", rd.downloadArchive)
	closeButton := widget.NewButton("Close", func() { rd.dialog.Hide() })

	top := container.NewVBox(
		widget.NewLabel("Repository:"),
		repoContainer,
		rd.infoLabel,
		rd.releaseSelect,
	)
	bottom := container.NewVBox(
		assetButton,
		widget.NewSeparator(),
		widget.NewLabel("Source archive (branch or tag):"),
		container.NewGridWithColumns(2, rd.refEntry, rd.formatSelect),
		container.NewHBox(closeButton, archiveButton),
	)
	content := container.NewBorder(top, bottom, nil, nil, rd.assetsList)

	rd.dialog = dialog.NewCustomWithoutButtons("Download From Repository", content, rd.parent)
	rd.dialog.Resize(fyne.NewSize(640, 560))
}

func describeAsset(a source.Asset) string {
	text := a.Name
	if a.Size > 0 {
		text += fmt.Sprintf(" (%s)", config.FormatBytes(a.Size))
	}
	switch {
	case a.Recommended && a.Match == source.Emulated:
		text = "★ " + text + " [emulated]"
	case a.Recommended:
		text = "★ " + text
	case a.Match == source.Emulated:
		text += " [emulated]"
	}
	return text
}

func (rd *ReleaseDialog) load() {
	reference := strings.TrimSpace(rd.repoEntry.Text)
	if reference == "" {
		return
	}
	rd.infoLabel.SetText("Loading " + reference + "...")

	go func() {
		ctx, cancel := resolveContext()
		defer cancel()

		info, err := rd.resolver.Validate(ctx, reference)
		if err != nil {
			rd.infoLabel.SetText("")
			dialog.ShowError(err, rd.parent)
			return
		}
		rd.repository = reference

		releases, err := rd.resolver.Releases(ctx, reference)
		if err != nil {
			dialog.ShowError(err, rd.parent)
			return
		}
		var refs []string
		if tags, err := rd.resolver.Tags(ctx, reference); err == nil {
			refs = append(refs, tags...)
		}
		if branches, err := rd.resolver.Branches(ctx, reference); err == nil {
			refs = append(refs, branches...)
		}

		rd.releases = releases
		rd.refEntry.SetOptions(refs)

		summary := fmt.Sprintf("%s (%s) - %d releases, platform %s", info.FullName, info.Provider, len(releases), rd.resolver.Platform())
		if info.Description != "" {
			summary += "\n" + info.Description
		}
		rd.infoLabel.SetText(summary)

		tags := make([]string, 0, len(releases))
		for _, r := range releases {
			tags = append(tags, releaseLabel(r))
		}
		rd.releaseSelect.Options = tags
		rd.releaseSelect.Refresh()

		latest, err := rd.resolver.LatestRelease(ctx, reference)
		switch {
		case err == nil:
			rd.releaseSelect.SetSelected(releaseLabel(*latest))
		case errors.Is(err, source.ErrNoRelease):
			rd.assets = nil
			rd.assetsList.Refresh()
		default:
			dialog.ShowError(err, rd.parent)
		}
	}()
}

func releaseLabel(r source.Release) string {
	label := r.Tag
	switch {
	case r.Draft:
		label += " (draft)"
	case r.Prerelease:
		label += " (prerelease)"
	}
	return label
}

func (rd *ReleaseDialog) showRelease(label string) {
	for _, r := range rd.releases {
		if releaseLabel(r) == label {
			rd.assets = r.Assets
			break
		}
	}
	rd.selected = -1
	rd.assetsList.UnselectAll()
	rd.assetsList.Refresh()
}

func (rd *ReleaseDialog) downloadAsset() {
	if rd.selected < 0 || rd.selected >= len(rd.assets) {
		dialog.ShowError(errors.New("select an asset first"), rd.parent)
		return
	}
	asset := rd.assets[rd.selected]

	desc, err := rd.resolver.ResolveRelease(asset)
	if err != nil {
		dialog.ShowError(err, rd.parent)
		return
	}
	rd.submit(desc, map[string]string{"repository": asset.Repository, "tag": asset.Tag})
}

func (rd *ReleaseDialog) downloadArchive() {
	if rd.repository == "" {
		dialog.ShowError(errors.New("load a repository first"), rd.parent)
		return
	}
	ref := strings.TrimSpace(rd.refEntry.Text)
	format := source.ArchiveFormat(rd.formatSelect.Selected)

	go func() {
		ctx, cancel := resolveContext()
		defer cancel()

		desc, err := rd.resolver.ResolveArchive(ctx, rd.repository, ref, format)
		if err != nil {
			dialog.ShowError(err, rd.parent)
			return
		}
		rd.submit(desc, map[string]string{"repository": desc.Repository, "ref": desc.Ref})
	}()
}

func (rd *ReleaseDialog) submit(desc source.Descriptor, metadata map[string]string) {
	dest := filepath.Join(rd.downloadDir, desc.FileName())
	id, err := rd.scheduler.Submit(desc, core.PriorityNormal, core.WithDestination(dest), core.WithMetadata(metadata))
	if err != nil {
		dialog.ShowError(err, rd.parent)
		return
	}
	if rd.callback != nil {
		rd.callback(id)
	}
}

func (rd *ReleaseDialog) Show() {
	rd.dialog.Show()
}
