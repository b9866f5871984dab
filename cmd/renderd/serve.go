package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-render/internal/api"
	"github.com/heimdex/heimdex-render/internal/config"
	"github.com/heimdex/heimdex-render/internal/db"
	"github.com/heimdex/heimdex-render/internal/engine"
	"github.com/heimdex/heimdex-render/internal/logging"
	"github.com/heimdex/heimdex-render/internal/notify"
	"github.com/heimdex/heimdex-render/internal/playback"
	"github.com/heimdex/heimdex-render/internal/render"
)

const (
	doctorTimeout   = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the render server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")
	return cmd
}

// loadEnvFile applies a dotenv file without overriding variables already set.
// A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func runServer(parent context.Context, cfg *config.EnvConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	startTime := time.Now()

	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting heimdex render server",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config", cfg.Path(),
		"config_loaded", cfg.FromFile(),
	)

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another renderd instance is using %s", cfg.DataDir())
	}
	defer lock.Unlock()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	executor, engineName := newExecutor(cfg, logger)
	eng := engine.NewLocalEngine(cfg.WorkDir(), executor, logging.WithComponent(logger, "engine"))

	doctor := engine.NewCachedDoctor(engine.HostProber{FFmpegPath: cfg.FFmpegPath()}, logger)
	probeCtx, probeCancel := context.WithTimeout(parent, doctorTimeout)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial capability probe failed", "error", err)
	} else {
		logger.Info("render capabilities detected",
			"ffmpeg", caps.FFmpeg.Available,
			"ffmpeg_version", caps.FFmpeg.Version,
			"cpus", caps.CPUs,
			"memory_available_mb", caps.MemoryFreeMB,
		)
	}
	probeCancel()

	var notifier render.Notifier
	if cfg.WebhookURL() != "" {
		notifier = notify.NewHTTPNotifier(cfg.WebhookURL(), cfg.WebhookToken(),
			logging.WithComponent(logger, "webhook"),
			notify.WithPublicBase(cfg.PublicBase()),
		)
		logger.Info("webhook notifications enabled", "url", cfg.WebhookURL())
	}

	manager, err := render.NewManager(render.Config{
		Engine:          eng,
		Store:           store,
		RendersDir:      cfg.RendersDir(),
		MaxConcurrent:   cfg.MaxConcurrent(),
		StallTimeout:    cfg.StallTimeout(),
		Retention:       cfg.JobRetention(),
		JanitorInterval: cfg.JanitorInterval(),
		Notifier:        notifier,
		Logger:          logging.WithComponent(logger, "render"),
	})
	if err != nil {
		return fmt.Errorf("failed to create render manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go manager.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Host:           cfg.Host(),
		Port:           cfg.Port(),
		Renders:        manager,
		PlaybackServer: playback.NewServer(cfg.RendersDir(), logger),
		Doctor:         doctor,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
		APIToken:       cfg.APIToken(),
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	printBanner(cfg, engineName)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("render jobs did not stop in time", "error", err, "active", manager.Active())
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(cfg *config.EnvConfig, logger *slog.Logger) (render.Store, func(), error) {
	if cfg.Store() != config.StoreSQLite {
		return render.NewMemoryStore(), func() {}, nil
	}
	database, err := db.New("renderd", logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closeFn := func() {
		if err := database.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}
	return render.NewSQLiteStore(database.Conn()), closeFn, nil
}

// newExecutor prefers ffmpeg. Without it only gif output is encoded, in
// process; mp4 jobs fail with engine.ErrNoEncoder.
func newExecutor(cfg *config.EnvConfig, logger *slog.Logger) (engine.Executor, string) {
	pool := engine.NewImagePool()
	rasterLogger := logging.WithComponent(logger, "raster")

	ffmpegPath, err := engine.ResolveFFmpeg(cfg.FFmpegPath())
	if err == nil {
		raster := engine.NewRasterizer(engine.NewFileMediaLoader("", ffmpegPath), pool, rasterLogger)
		executor, execErr := engine.NewFFmpegExecutor(engine.FFmpegConfig{
			FFmpegPath: ffmpegPath,
			Logger:     logging.WithComponent(logger, "ffmpeg"),
		}, raster, pool)
		if execErr == nil {
			return executor, "ffmpeg"
		}
		err = execErr
	}

	logger.Warn("ffmpeg unavailable, only gif renders are supported", "error", err)
	raster := engine.NewRasterizer(engine.NewFileMediaLoader("", ""), pool, rasterLogger)
	return engine.NewGIFExecutor(raster, pool, logging.WithComponent(logger, "gif")), "builtin gif (no mp4)"
}

func printBanner(cfg *config.EnvConfig, engineName string) {
	auth := "disabled (loopback admin only)"
	if cfg.APIToken() != "" {
		auth = "bearer " + logging.SanitizeToken(cfg.APIToken())
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %-57s║\n", "HEIMDEX RENDER v"+config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    %-45s║\n", cfg.ServerURL())
	fmt.Printf("║  Engine:     %-45s║\n", engineName)
	fmt.Printf("║  Job store:  %-45s║\n", cfg.Store())
	fmt.Printf("║  Auth:       %-45s║\n", auth)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}
