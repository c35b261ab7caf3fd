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

	"launcher-go/internal/core"
	"launcher-go/internal/source"
)

type AddDownloadDialog struct {
	dialog         dialog.Dialog
	parent         fyne.Window
	urlEntry       *widget.Entry
	pathEntry      *widget.Entry
	nameEntry      *widget.Entry
	checksumEntry  *widget.Entry
	prioritySelect *widget.Select
	scheduler      *core.Scheduler
	resolver       *source.Resolver
	callback       func(id string)
}

func NewAddDownloadDialog(parent fyne.Window, scheduler *core.Scheduler, resolver *source.Resolver, downloadDir string, callback func(id string)) *AddDownloadDialog {
	add := &AddDownloadDialog{
		parent:    parent,
		scheduler: scheduler,
		resolver:  resolver,
		callback:  callback,
	}

	add.createDialog(downloadDir)
	return add
}

func (add *AddDownloadDialog) createDialog(downloadDir string) {
	add.urlEntry = widget.NewEntry()
	add.urlEntry.SetPlaceHolder("https://example.com/file.zip")
	add.urlEntry.Validator = validateURL

	add.pathEntry = widget.NewEntry()
	add.pathEntry.SetText(downloadDir)

	browseButton := widget.NewButton("Browse", func() {
		dialog.ShowFolderOpen(func(folder fyne.ListableURI, err error) {
			if err == nil && folder != nil {
				add.pathEntry.SetText(folder.Path())
			}
		}, add.parent)
	})
	pathContainer := container.NewBorder(nil, nil, nil, browseButton, add.pathEntry)

	add.nameEntry = widget.NewEntry()
	add.nameEntry.SetPlaceHolder("From the server when empty")

	add.checksumEntry = widget.NewEntry()
	add.checksumEntry.SetPlaceHolder("sha256:... (optional)")

	add.prioritySelect = widget.NewSelect(priorityNames(), nil)
	add.prioritySelect.SetSelected(core.PriorityNormal.String())

	addButton := widget.NewButton("Add Download", add.addDownload)
	addButton.Importance = widget.HighImportance

	cancelButton := widget.NewButton("Cancel", func() {
		add.dialog.Hide()
	})

	buttons := container.NewHBox(cancelButton, addButton)

	form := container.NewVBox(
		widget.NewLabel("Download URL:"),
		add.urlEntry,
		widget.NewSeparator(),
		widget.NewLabel("Save To:"),
		pathContainer,
		widget.NewLabel("File Name:"),
		add.nameEntry,
		widget.NewSeparator(),
		widget.NewLabel("Priority:"),
		add.prioritySelect,
		widget.NewLabel("Expected Checksum:"),
		add.checksumEntry,
		widget.NewSeparator(),
		buttons,
	)

	add.dialog = dialog.NewCustomWithoutButtons("Add New Download", form, add.parent)
	add.dialog.Resize(fyne.NewSize(520, 420))
}

func validateURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("URL is required")
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return errors.New("only http and https URLs are supported")
	}
	return nil
}

func (add *AddDownloadDialog) addDownload() {
	rawURL := strings.TrimSpace(add.urlEntry.Text)
	dir := strings.TrimSpace(add.pathEntry.Text)
	name := strings.TrimSpace(add.nameEntry.Text)
	checksum := strings.TrimSpace(add.checksumEntry.Text)

	if err := validateURL(rawURL); err != nil {
		dialog.ShowError(err, add.parent)
		return
	}
	if dir == "" {
		dialog.ShowError(errors.New("a download directory is required"), add.parent)
		return
	}
	priority, err := core.ParsePriority(add.prioritySelect.Selected)
	if err != nil {
		dialog.ShowError(err, add.parent)
		return
	}

	add.dialog.Hide()

	go func() {
		ctx, cancel := resolveContext()
		defer cancel()

		desc, err := add.resolver.ResolveURL(ctx, rawURL)
		if err != nil {
			dialog.ShowError(err, add.parent)
			return
		}
		if name == "" {
			name = desc.FileName()
		}

		opts := []core.SubmitOption{core.WithDestination(filepath.Join(dir, name))}
		if checksum != "" {
			opts = append(opts, core.WithChecksum(checksum))
		}
		id, err := add.scheduler.Submit(desc, priority, opts...)
		if err != nil {
			dialog.ShowError(fmt.Errorf("add download: %w", err), add.parent)
			return
		}

		if add.callback != nil {
			add.callback(id)
		}
	}()
}

func (add *AddDownloadDialog) Show() {
	add.dialog.Show()
}
