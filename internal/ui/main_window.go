package ui

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"launcher-go/internal/config"
	"launcher-go/internal/core"
	"launcher-go/internal/source"
)

const resolveTimeout = 30 * time.Second

type MainWindow struct {
	app       fyne.App
	window    fyne.Window
	scheduler *core.Scheduler
	resolver  *source.Resolver
	cfg       *config.Config
	cfgPath   string
	logger    *slog.Logger

	mu       sync.Mutex
	tasks    []*core.Task
	selected string

	tasksList   *widget.List
	statusBar   *widget.Label
	unsubscribe func()
}

func NewMainWindow(app fyne.App, scheduler *core.Scheduler, resolver *source.Resolver, cfg *config.Config, cfgPath string, logger *slog.Logger) *MainWindow {
	window := app.NewWindow("Launcher - Downloads")
	window.Resize(fyne.NewSize(860, 600))
	window.SetMaster()

	mw := &MainWindow{
		app:       app,
		window:    window,
		scheduler: scheduler,
		resolver:  resolver,
		cfg:       cfg,
		cfgPath:   cfgPath,
		logger:    logger,
		statusBar: widget.NewLabel("Ready"),
	}

	mw.setupUI()
	mw.loadTasks()

	events, unsubscribe := scheduler.Subscribe(256)
	mw.unsubscribe = unsubscribe
	go mw.watch(events)
	window.SetOnClosed(unsubscribe)

	return mw
}

func (mw *MainWindow) setupUI() {
	toolbar := mw.createToolbar()
	mw.createTasksList()

	statusContainer := container.NewBorder(nil, nil, mw.statusBar, nil)
	content := container.NewBorder(toolbar, statusContainer, nil, nil, mw.tasksList)

	mw.window.SetContent(content)
	mw.updateStatusBar(mw.scheduler.Stats())
}

func (mw *MainWindow) createToolbar() *widget.Toolbar {
	return widget.NewToolbar(
		widget.NewToolbarAction(theme.ContentAddIcon(), mw.showAddDownloadDialog),
		widget.NewToolbarAction(theme.DownloadIcon(), mw.showReleaseDialog),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.MediaPlayIcon(), mw.resumeSelected),
		widget.NewToolbarAction(theme.MediaPauseIcon(), mw.pauseSelected),
		widget.NewToolbarAction(theme.MediaStopIcon(), mw.cancelSelected),
		widget.NewToolbarAction(theme.MoveUpIcon(), mw.showPriorityDialog),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.MediaReplayIcon(), mw.retryFailed),
		widget.NewToolbarAction(theme.DeleteIcon(), mw.clearFinished),
		widget.NewToolbarAction(theme.FolderOpenIcon(), mw.openSelectedFolder),
		widget.NewToolbarAction(theme.InfoIcon(), mw.showChecksumDialog),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.SettingsIcon(), mw.showSettings),
	)
}

func (mw *MainWindow) createTasksList() {
	mw.tasksList = widget.NewList(
		func() int {
			mw.mu.Lock()
			defer mw.mu.Unlock()
			return len(mw.tasks)
		},
		func() fyne.CanvasObject {
			return mw.createTaskItem()
		},
		func(id widget.ListItemID, item fyne.CanvasObject) {
			mw.mu.Lock()
			if id >= len(mw.tasks) {
				mw.mu.Unlock()
				return
			}
			task := mw.tasks[id]
			mw.mu.Unlock()
			mw.updateTaskItem(item, task)
		},
	)
	mw.tasksList.OnSelected = func(id widget.ListItemID) {
		mw.mu.Lock()
		defer mw.mu.Unlock()
		if id < len(mw.tasks) {
			mw.selected = mw.tasks[id].ID
		}
	}
	mw.tasksList.OnUnselected = func(widget.ListItemID) {
		mw.mu.Lock()
		mw.selected = ""
		mw.mu.Unlock()
	}
}

func (mw *MainWindow) createTaskItem() fyne.CanvasObject {
	filename := widget.NewLabel("")
	filename.TextStyle.Bold = true

	location := widget.NewLabel("")
	location.Truncation = fyne.TextTruncateEllipsis

	status := widget.NewLabel("")
	progress := widget.NewProgressBar()
	size := widget.NewLabel("")
	speed := widget.NewLabel("")

	infoContainer := container.NewHBox(size, speed, status)

	return container.NewVBox(
		filename,
		location,
		progress,
		infoContainer,
	)
}

func (mw *MainWindow) updateTaskItem(item fyne.CanvasObject, task *core.Task) {
	box := item.(*fyne.Container)

	filename := box.Objects[0].(*widget.Label)
	location := box.Objects[1].(*widget.Label)
	progress := box.Objects[2].(*widget.ProgressBar)
	infoContainer := box.Objects[3].(*fyne.Container)

	size := infoContainer.Objects[0].(*widget.Label)
	speed := infoContainer.Objects[1].(*widget.Label)
	status := infoContainer.Objects[2].(*widget.Label)

	filename.SetText(fmt.Sprintf("%s  [%s]", task.FileName, task.Priority))
	location.SetText(task.URL)
	progress.SetValue(task.Progress.Percent / 100.0)
	size.SetText(sizeText(task.Progress))
	speed.SetText(speedText(task))
	status.SetText(statusText(task, mw.scheduler.Config().MaxRetries))

	switch task.State {
	case core.StateCompleted:
		status.Importance = widget.SuccessImportance
	case core.StateFailed:
		status.Importance = widget.DangerImportance
	case core.StatePaused, core.StateCancelled:
		status.Importance = widget.WarningImportance
	default:
		status.Importance = widget.MediumImportance
	}
	status.Refresh()
}

func sizeText(p core.Progress) string {
	if p.TotalBytes > 0 {
		return fmt.Sprintf("%s / %s", config.FormatBytes(p.DownloadedBytes), config.FormatBytes(p.TotalBytes))
	}
	return config.FormatBytes(p.DownloadedBytes)
}

func speedText(task *core.Task) string {
	if task.State != core.StateDownloading || task.Progress.Speed <= 0 {
		return ""
	}
	text := config.FormatBytes(int64(task.Progress.Speed)) + "/s"
	if task.Progress.ETASeconds >= 0 {
		text += ", " + formatETA(task.Progress.ETASeconds) + " left"
	}
	return text
}

func statusText(task *core.Task, maxRetries int) string {
	text := task.State.String()
	if task.Retries > 0 && (task.State == core.StateQueued || task.State == core.StateDownloading || task.State == core.StateFailed) {
		text += fmt.Sprintf(" (retry %d/%d)", task.Retries, maxRetries)
	}
	if task.State == core.StateFailed && task.Error != "" {
		text += ": " + task.Error
	}
	return text
}

func formatETA(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", seconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh%02dm", seconds/3600, (seconds%3600)/60)
	}
}

func (mw *MainWindow) selectedTask() (*core.Task, bool) {
	mw.mu.Lock()
	id := mw.selected
	mw.mu.Unlock()
	if id == "" {
		return nil, false
	}
	task, err := mw.scheduler.Get(id)
	if err != nil {
		return nil, false
	}
	return task, true
}

// withSelected runs fn on the selected task and reports its error.
func (mw *MainWindow) withSelected(fn func(task *core.Task) error) {
	task, ok := mw.selectedTask()
	if !ok {
		return
	}
	if err := fn(task); err != nil {
		dialog.ShowError(err, mw.window)
	}
}

func (mw *MainWindow) showAddDownloadDialog() {
	d := NewAddDownloadDialog(mw.window, mw.scheduler, mw.resolver, mw.cfg.DownloadDir, mw.onTaskAdded)
	d.Show()
}

func (mw *MainWindow) showReleaseDialog() {
	d := NewReleaseDialog(mw.window, mw.scheduler, mw.resolver, mw.cfg.DownloadDir, mw.onTaskAdded)
	d.Show()
}

func (mw *MainWindow) onTaskAdded(id string) {
	mw.onTaskChanged(id)
}

func (mw *MainWindow) resumeSelected() {
	mw.withSelected(func(task *core.Task) error {
		if task.State == core.StateFailed {
			return mw.scheduler.Retry(task.ID)
		}
		return mw.scheduler.Resume(task.ID)
	})
}

func (mw *MainWindow) pauseSelected() {
	mw.withSelected(func(task *core.Task) error {
		return mw.scheduler.Pause(task.ID)
	})
}

func (mw *MainWindow) cancelSelected() {
	task, ok := mw.selectedTask()
	if !ok {
		return
	}

	dialog.ShowConfirm("Cancel Download",
		fmt.Sprintf("Are you sure you want to cancel %s?", task.FileName),
		func(confirmed bool) {
			if !confirmed {
				return
			}
			if err := mw.scheduler.Cancel(task.ID); err != nil {
				dialog.ShowError(err, mw.window)
			}
		}, mw.window)
}

func (mw *MainWindow) showPriorityDialog() {
	task, ok := mw.selectedTask()
	if !ok {
		return
	}

	selectPriority := widget.NewSelect(priorityNames(), nil)
	selectPriority.SetSelected(task.Priority.String())

	items := []*widget.FormItem{widget.NewFormItem("Priority", selectPriority)}
	dialog.ShowForm("Set Priority", "Apply", "Cancel", items, func(confirmed bool) {
		if !confirmed {
			return
		}
		p, err := core.ParsePriority(selectPriority.Selected)
		if err == nil {
			err = mw.scheduler.SetPriority(task.ID, p)
		}
		if err != nil {
			dialog.ShowError(err, mw.window)
		}
	}, mw.window)
}

func (mw *MainWindow) retryFailed() {
	n := mw.scheduler.RetryFailed()
	mw.statusBar.SetText(fmt.Sprintf("Requeued %d failed downloads", n))
}

func (mw *MainWindow) clearFinished() {
	dialog.ShowConfirm("Clear Finished",
		"Remove completed and cancelled downloads from the list? Files stay on disk.",
		func(confirmed bool) {
			if confirmed {
				mw.scheduler.ClearFinished()
				mw.loadTasks()
			}
		}, mw.window)
}

func (mw *MainWindow) openSelectedFolder() {
	mw.withSelected(func(task *core.Task) error {
		path, err := mw.scheduler.CompletedPath(task.ID)
		if err != nil {
			return err
		}
		u, err := url.Parse(storage.NewFileURI(filepath.Dir(path)).String())
		if err != nil {
			return err
		}
		return mw.app.OpenURL(u)
	})
}

func (mw *MainWindow) showChecksumDialog() {
	task, ok := mw.selectedTask()
	if !ok {
		return
	}

	algorithm := widget.NewSelect([]string{"sha256", "sha512", "sha1", "md5"}, nil)
	algorithm.SetSelected("sha256")

	items := []*widget.FormItem{widget.NewFormItem("Algorithm", algorithm)}
	dialog.ShowForm("Calculate Checksum", "Calculate", "Cancel", items, func(confirmed bool) {
		if !confirmed {
			return
		}
		go func() {
			sum, err := mw.scheduler.CalculateChecksum(task.ID, algorithm.Selected)
			if err != nil {
				dialog.ShowError(err, mw.window)
				return
			}
			mw.window.Clipboard().SetContent(sum)
			dialog.ShowInformation("Checksum",
				fmt.Sprintf("%s of %s:\n%s\n\nCopied to the clipboard.", algorithm.Selected, task.FileName, sum),
				mw.window)
		}()
	}, mw.window)
}

func (mw *MainWindow) showSettings() {
	settings := NewSettingsWindow(mw.app, mw.scheduler, mw.cfg, mw.cfgPath, mw.logger)
	settings.Show()
}

func (mw *MainWindow) loadTasks() {
	tasks := mw.scheduler.List()

	mw.mu.Lock()
	mw.tasks = tasks
	mw.mu.Unlock()
	mw.tasksList.Refresh()
}

func (mw *MainWindow) watch(events <-chan core.Event) {
	for e := range events {
		switch e.Type {
		case core.EventTaskChanged:
			mw.onTaskChanged(e.TaskID)
		case core.EventQueueStatsChanged:
			mw.updateStatusBar(e.Stats)
		}
	}
}

func (mw *MainWindow) onTaskChanged(id string) {
	task, err := mw.scheduler.Get(id)

	mw.mu.Lock()
	index := -1
	for i, t := range mw.tasks {
		if t.ID == id {
			index = i
			break
		}
	}
	switch {
	case err != nil && index >= 0:
		mw.tasks = append(mw.tasks[:index], mw.tasks[index+1:]...)
	case err != nil:
	case index >= 0:
		mw.tasks[index] = task
	default:
		mw.tasks = append(mw.tasks, task)
	}
	mw.mu.Unlock()

	if index >= 0 && err == nil {
		mw.tasksList.RefreshItem(index)
		return
	}
	mw.tasksList.Refresh()
}

func (mw *MainWindow) updateStatusBar(stats core.QueueStats) {
	parts := []string{
		fmt.Sprintf("Downloads: %d", stats.Total),
		fmt.Sprintf("Active: %d", stats.Downloading),
		fmt.Sprintf("Queued: %d", stats.Queued),
		fmt.Sprintf("Completed: %d", stats.Completed),
		fmt.Sprintf("Failed: %d", stats.Failed),
	}
	if stats.Speed > 0 {
		parts = append(parts, config.FormatBytes(int64(stats.Speed))+"/s")
	}
	mw.statusBar.SetText(strings.Join(parts, " | "))
}

func (mw *MainWindow) ShowAndRun() {
	mw.window.ShowAndRun()
}

// resolveContext bounds provider requests started from a dialog.
func resolveContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), resolveTimeout)
}

func priorityNames() []string {
	return []string{
		core.PriorityCritical.String(),
		core.PriorityHigh.String(),
		core.PriorityNormal.String(),
		core.PriorityLow.String(),
	}
}
