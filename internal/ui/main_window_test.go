package ui

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"fyne.io/fyne/v2/test"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launcher-go/internal/config"
	"launcher-go/internal/core"
	"launcher-go/internal/source"
	"launcher-go/internal/transport"
)

func newTestWindow(t *testing.T) (*MainWindow, *core.Scheduler) {
	t.Helper()
	app := test.NewApp()
	t.Cleanup(app.Quit)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.DownloadDir = "/downloads"

	engineCfg := core.DefaultConfig()
	engineCfg.DownloadDir = cfg.DownloadDir
	scheduler := core.NewScheduler(engineCfg, core.WithFilesystem(memfs.New()), core.WithLogger(logger))
	t.Cleanup(scheduler.Close)

	resolver := source.NewResolver(transport.NewClient(transport.DefaultOptions()), source.WithLogger(logger))
	mw := NewMainWindow(app, scheduler, resolver, &cfg, filepath.Join(t.TempDir(), "config.yaml"), logger)
	return mw, scheduler
}

func TestMainWindowTracksTasks(t *testing.T) {
	mw, scheduler := newTestWindow(t)

	// the scheduler is not started, so tasks stay queued
	id, err := scheduler.Submit(source.Generic{Location: "http://example.invalid/a.bin", Name: "a.bin"}, core.PriorityHigh)
	require.NoError(t, err)
	mw.onTaskChanged(id)

	mw.mu.Lock()
	require.Len(t, mw.tasks, 1)
	assert.Equal(t, id, mw.tasks[0].ID)
	mw.mu.Unlock()

	mw.tasksList.Select(0)
	task, ok := mw.selectedTask()
	require.True(t, ok)
	assert.Equal(t, "/downloads/a.bin", task.Destination)

	mw.pauseSelected()
	task, err = scheduler.Get(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatePaused, task.State)

	mw.resumeSelected()
	task, err = scheduler.Get(id)
	require.NoError(t, err)
	assert.Equal(t, core.StateQueued, task.State)

	mw.updateStatusBar(scheduler.Stats())
	assert.Contains(t, mw.statusBar.Text, "Queued: 1")
}

func TestMainWindowDropsRemovedTasks(t *testing.T) {
	mw, scheduler := newTestWindow(t)

	id, err := scheduler.Submit(source.Generic{Location: "http://example.invalid/b.bin", Name: "b.bin"}, core.PriorityNormal)
	require.NoError(t, err)
	mw.loadTasks()
	require.NoError(t, scheduler.Cancel(id))
	assert.Equal(t, 1, scheduler.ClearFinished())

	mw.onTaskChanged(id)
	mw.mu.Lock()
	defer mw.mu.Unlock()
	assert.Empty(t, mw.tasks)
}

func TestStatusText(t *testing.T) {
	failed := &core.Task{State: core.StateFailed, Retries: 3, Error: "network error: EOF"}
	assert.Equal(t, "Failed (retry 3/3): network error: EOF", statusText(failed, 3))

	queued := &core.Task{State: core.StateQueued, Retries: 1}
	assert.Equal(t, "Queued (retry 1/3)", statusText(queued, 3))

	assert.Equal(t, "Completed", statusText(&core.Task{State: core.StateCompleted, Retries: 2}, 3))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "42s", formatETA(42))
	assert.Equal(t, "3m05s", formatETA(185))
	assert.Equal(t, "2h01m", formatETA(7260))
}

func TestDescribeAsset(t *testing.T) {
	assert.Equal(t, "★ tool-linux-amd64.tar.gz (1.0 KB)",
		describeAsset(source.Asset{Name: "tool-linux-amd64.tar.gz", Size: 1024, Match: source.Native, Recommended: true}))
	assert.Equal(t, "tool-darwin-amd64.zip [emulated]",
		describeAsset(source.Asset{Name: "tool-darwin-amd64.zip", Match: source.Emulated}))
	assert.Equal(t, "checksums.txt", describeAsset(source.Asset{Name: "checksums.txt"}))
}

func TestSettingsApplyToScheduler(t *testing.T) {
	mw, scheduler := newTestWindow(t)
	sw := NewSettingsWindow(mw.app, scheduler, mw.cfg, mw.cfgPath, mw.logger)

	sw.parallelEntry.SetText("6")
	sw.speedLimitEntry.SetText("2MB")
	sw.maxRetriesEntry.SetText("5")
	sw.saveSettings()

	got := scheduler.Config()
	assert.Equal(t, 6, got.ParallelDownloads)
	assert.Equal(t, int64(2<<20), got.SpeedLimit)
	assert.Equal(t, 5, got.MaxRetries)
	assert.Equal(t, 6, mw.cfg.ParallelDownloads)

	saved, err := config.LoadFromFile(mw.cfgPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), saved.DownloadSpeedLimit)

	sw.parallelEntry.SetText("40")
	_, err = sw.readForm()
	assert.Error(t, err)
}
