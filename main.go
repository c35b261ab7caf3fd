package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2/app"

	"launcher-go/internal/config"
	"launcher-go/internal/core"
	"launcher-go/internal/source"
	"launcher-go/internal/storage"
	"launcher-go/internal/transport"
	"launcher-go/internal/ui"
)

func main() {
	cfgPath := config.DefaultPath()
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize database
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := core.NewTaskStore(
		core.WithPersister(db),
		core.WithCheckpointInterval(cfg.CheckpointInterval),
		core.WithStoreLogger(logger),
	)
	scheduler := core.NewScheduler(&core.Config{
		DownloadDir:        cfg.DownloadDir,
		ParallelDownloads:  cfg.ParallelDownloads,
		SpeedLimit:         cfg.DownloadSpeedLimit,
		MaxRetries:         cfg.MaxRetries,
		ChunkSize:          int(cfg.ChunkSize),
		CheckpointInterval: cfg.CheckpointInterval,
		UserAgent:          cfg.UserAgent,
	}, core.WithStore(store), core.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Close()

	opts := transport.DefaultOptions()
	opts.UserAgent = cfg.UserAgent
	opts.Logger = logger
	resolver := source.NewResolver(transport.NewClient(opts),
		source.WithGitHub(cfg.GitHub.URL, cfg.GitHub.Token),
		source.WithGitLab(cfg.GitLab.URL, cfg.GitLab.Token),
		source.WithLogger(logger),
	)

	myApp := app.NewWithID("com.example.launcher")
	mainWindow := ui.NewMainWindow(myApp, scheduler, resolver, &cfg, cfgPath, logger)
	go func() {
		<-ctx.Done()
		myApp.Quit()
	}()
	mainWindow.ShowAndRun()
}

// loadConfig layers the config file, when present, and the environment
// over the defaults.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.LoadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return cfg, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
