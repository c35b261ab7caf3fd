package ui

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"launcher-go/internal/config"
	"launcher-go/internal/core"
)

type SettingsWindow struct {
	app       fyne.App
	window    fyne.Window
	scheduler *core.Scheduler
	cfg       *config.Config
	cfgPath   string
	logger    *slog.Logger

	downloadDirEntry *widget.Entry
	parallelEntry    *widget.Entry
	speedLimitEntry  *widget.Entry
	maxRetriesEntry  *widget.Entry
	userAgentEntry   *widget.Entry
	githubTokenEntry *widget.Entry
	gitlabURLEntry   *widget.Entry
	gitlabTokenEntry *widget.Entry
}

func NewSettingsWindow(app fyne.App, scheduler *core.Scheduler, cfg *config.Config, cfgPath string, logger *slog.Logger) *SettingsWindow {
	window := app.NewWindow("Settings")
	window.Resize(fyne.NewSize(520, 460))

	settings := &SettingsWindow{
		app:       app,
		window:    window,
		scheduler: scheduler,
		cfg:       cfg,
		cfgPath:   cfgPath,
		logger:    logger,
	}

	settings.setupUI()
	settings.loadSettings(*cfg)

	return settings
}

func (sw *SettingsWindow) setupUI() {
	sw.downloadDirEntry = widget.NewEntry()

	sw.parallelEntry = widget.NewEntry()
	sw.parallelEntry.SetPlaceHolder("4")

	sw.speedLimitEntry = widget.NewEntry()
	sw.speedLimitEntry.SetPlaceHolder("0 (unlimited), or e.g. 2MB")

	sw.maxRetriesEntry = widget.NewEntry()
	sw.maxRetriesEntry.SetPlaceHolder("3")

	sw.userAgentEntry = widget.NewEntry()

	sw.githubTokenEntry = widget.NewPasswordEntry()
	sw.gitlabURLEntry = widget.NewEntry()
	sw.gitlabTokenEntry = widget.NewPasswordEntry()

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Download Directory:", Widget: sw.downloadDirEntry},
			{Text: fmt.Sprintf("Parallel Downloads (%d-%d):", config.MinParallelDownloads, config.MaxParallelDownloads), Widget: sw.parallelEntry},
			{Text: "Speed Limit (per second):", Widget: sw.speedLimitEntry},
			{Text: "Max Retries:", Widget: sw.maxRetriesEntry},
			{Text: "User Agent:", Widget: sw.userAgentEntry},
			{Text: "GitHub Token:", Widget: sw.githubTokenEntry},
			{Text: "GitLab URL:", Widget: sw.gitlabURLEntry},
			{Text: "GitLab Token:", Widget: sw.gitlabTokenEntry},
		},
		OnSubmit:   sw.saveSettings,
		OnCancel:   func() { sw.window.Close() },
		SubmitText: "Save",
		CancelText: "Cancel",
	}

	resetButton := widget.NewButton("Reset to Defaults", sw.resetToDefaults)
	aboutButton := widget.NewButton("About", sw.showAbout)

	content := container.NewVBox(
		widget.NewLabel("Download Settings"),
		widget.NewSeparator(),
		form,
		widget.NewLabel("User agent and provider changes apply after a restart."),
		widget.NewSeparator(),
		container.NewHBox(resetButton, aboutButton),
	)

	sw.window.SetContent(container.NewScroll(content))
}

func (sw *SettingsWindow) loadSettings(cfg config.Config) {
	sw.downloadDirEntry.SetText(cfg.DownloadDir)
	sw.parallelEntry.SetText(strconv.Itoa(cfg.ParallelDownloads))
	if cfg.DownloadSpeedLimit > 0 {
		sw.speedLimitEntry.SetText(config.FormatBytes(cfg.DownloadSpeedLimit))
	} else {
		sw.speedLimitEntry.SetText("0")
	}
	sw.maxRetriesEntry.SetText(strconv.Itoa(cfg.MaxRetries))
	sw.userAgentEntry.SetText(cfg.UserAgent)
	sw.githubTokenEntry.SetText(cfg.GitHub.Token)
	sw.gitlabURLEntry.SetText(cfg.GitLab.URL)
	sw.gitlabTokenEntry.SetText(cfg.GitLab.Token)
}

// readForm validates the form into a copy of the current configuration.
func (sw *SettingsWindow) readForm() (config.Config, error) {
	cfg := *sw.cfg

	cfg.DownloadDir = strings.TrimSpace(sw.downloadDirEntry.Text)

	parallel, err := strconv.Atoi(strings.TrimSpace(sw.parallelEntry.Text))
	if err != nil {
		return cfg, fmt.Errorf("parallel downloads must be a number between %d and %d", config.MinParallelDownloads, config.MaxParallelDownloads)
	}
	cfg.ParallelDownloads = parallel

	limit := strings.TrimSpace(sw.speedLimitEntry.Text)
	if limit == "" {
		limit = "0"
	}
	if cfg.DownloadSpeedLimit, err = config.ParseBytes(limit); err != nil {
		return cfg, fmt.Errorf("speed limit: %w", err)
	}

	if cfg.MaxRetries, err = strconv.Atoi(strings.TrimSpace(sw.maxRetriesEntry.Text)); err != nil {
		return cfg, fmt.Errorf("max retries must be a number")
	}

	if ua := strings.TrimSpace(sw.userAgentEntry.Text); ua != "" {
		cfg.UserAgent = ua
	}
	cfg.GitHub.Token = strings.TrimSpace(sw.githubTokenEntry.Text)
	if u := strings.TrimSpace(sw.gitlabURLEntry.Text); u != "" {
		cfg.GitLab.URL = u
	}
	cfg.GitLab.Token = strings.TrimSpace(sw.gitlabTokenEntry.Text)

	return cfg, cfg.Validate()
}

func (sw *SettingsWindow) saveSettings() {
	cfg, err := sw.readForm()
	if err != nil {
		dialog.ShowError(err, sw.window)
		return
	}

	sw.scheduler.SetParallelDownloads(cfg.ParallelDownloads)
	sw.scheduler.SetSpeedLimit(cfg.DownloadSpeedLimit)
	sw.scheduler.SetMaxRetries(cfg.MaxRetries)
	*sw.cfg = cfg

	if err := cfg.SaveToFile(sw.cfgPath); err != nil {
		sw.logger.Error("failed to save settings", "path", sw.cfgPath, "error", err)
		dialog.ShowError(fmt.Errorf("settings applied but not saved: %w", err), sw.window)
		return
	}
	sw.logger.Info("settings saved", "path", sw.cfgPath)
	sw.window.Close()
}

func (sw *SettingsWindow) resetToDefaults() {
	dialog.ShowConfirm("Reset Settings",
		"Are you sure you want to reset all settings to default values?",
		func(confirmed bool) {
			if confirmed {
				sw.loadSettings(config.Default())
			}
		}, sw.window)
}

func (sw *SettingsWindow) showAbout() {
	about := dialog.NewInformation("About Launcher",
		"Launcher download engine\n\n"+
			"Built with Go and Fyne\n\n"+
			"Features:\n"+
			"• Prioritised download queue\n"+
			"• Pause and resume\n"+
			"• Speed limiting\n"+
			"• GitHub and GitLab releases\n"+
			"• Checksum verification",
		sw.window)
	about.Show()
}

func (sw *SettingsWindow) Show() {
	sw.window.Show()
}
