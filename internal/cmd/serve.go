package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/internal/config"
	"github.com/3leaps/tunegrab/internal/observability"
	"github.com/3leaps/tunegrab/internal/server"
	"github.com/3leaps/tunegrab/internal/server/handlers"
	"github.com/3leaps/tunegrab/pkg/engine/ytdlp"
	"github.com/3leaps/tunegrab/pkg/mirror"
	"github.com/3leaps/tunegrab/pkg/orchestrator"
)

// audioExtensions are the files /files lists.
var audioExtensions = []string{"mp3", "m4a", "opus", "ogg", "flac", "wav"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the download service",
	Long: `Start the HTTP service that accepts download requests and runs them as
background jobs.

Configuration comes from tunegrab.yaml, TUNEGRAB_* environment variables
and the flags below. Runtime settings (download path, concurrency, folder
layout) live in a separate settings document that POST /config updates.

Examples:
  tunegrab serve
  tunegrab serve --port 9000 --log-level debug
  TUNEGRAB_MIRROR_ENABLED=true TUNEGRAB_MIRROR_BUCKET=music tunegrab serve`,
	RunE: runServe,
}

var (
	serveHost         string
	servePort         int
	serveLogLevel     string
	serveSettingsFile string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveSettingsFile, "settings-file", "", "Path to the persisted settings document")
}

func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server"] = map[string]any{"host": serveHost}
	}
	if cmd.Flags().Changed("port") {
		srv, _ := overrides["server"].(map[string]any)
		if srv == nil {
			srv = map[string]any{}
		}
		srv["port"] = servePort
		overrides["server"] = srv
	}
	if cmd.Flags().Changed("log-level") {
		overrides["logging"] = map[string]any{"level": serveLogLevel}
	}
	if cmd.Flags().Changed("settings-file") {
		overrides["settings"] = map[string]any{"file": serveSettingsFile}
	}
	return overrides
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, serveOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()
	restore := zap.ReplaceGlobals(logger)
	defer restore()

	store, err := config.OpenSettingsStore(cfg.Settings.File, config.DefaultSettings(cfg.Downloads))
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open settings", err)
	}
	current := store.Get()
	logger.Info("Settings loaded",
		zap.String("file", store.Path()),
		zap.String("download_path", current.DownloadPath),
		zap.Int("max_concurrent_downloads", current.MaxConcurrentDownloads),
		zap.Bool("organize_by_date", current.OrganizeByDate))
	if current.OrganizeByArtist {
		logger.Info("organize_by_artist is stored but does not change folder layout")
	}

	eng := ytdlp.New(ytdlp.Options{
		Binary:           cfg.Engine.Binary,
		ProgressInterval: cfg.Engine.ProgressInterval,
		ProbeTimeout:     cfg.Engine.ProbeTimeout,
		Logger:           logger.Named("ytdlp"),
	})

	opts := []orchestrator.Option{orchestrator.WithLogger(logger.Named("jobs"))}
	var mirrorClient *mirror.Mirror
	if cfg.Mirror.Enabled {
		mirrorClient, err = mirror.New(ctx, mirrorConfig(cfg.Mirror), logger.Named("mirror"))
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid mirror configuration", err)
		}
		opts = append(opts, orchestrator.WithPublisher(mirrorClient))
		logger.Info("Mirroring completed downloads",
			zap.String("bucket", mirrorClient.Bucket()),
			zap.String("region", mirrorClient.Region()))
	}

	manager := orchestrator.New(eng, orchestrator.Config{
		Settings:            managerSettings(current),
		AudioFormat:         cfg.Downloads.AudioFormat,
		AudioQuality:        cfg.Downloads.AudioQuality,
		AllowedHosts:        cfg.Downloads.AllowedHosts,
		ProgressLogInterval: 2 * time.Second,
	}, opts...)
	store.Subscribe(func(s config.Settings) {
		manager.ApplySettings(managerSettings(s))
	})

	if cfg.Health.Enabled {
		health := handlers.InitHealthManager(versionInfo.Version)
		identity := config.Identity()
		health.RegisterChecker("identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		health.RegisterChecker("signals", signalHealthChecker{})
		health.RegisterChecker("engine", handlers.BinaryChecker{Binary: eng.Binary()})
		health.RegisterChecker("download_dir", handlers.DirChecker{Dir: func() string { return store.Get().DownloadPath }})
		if mirrorClient != nil {
			health.RegisterChecker("mirror", handlers.MirrorChecker{Mirror: mirrorClient})
		}
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithLogger(logger.Named("http")),
		server.WithJobs(manager),
		server.WithSettings(store),
		server.WithFiles(handlers.NewFileHandlers(func() string { return store.Get().DownloadPath }, audioExtensions...)),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		shutdownManager(logger, manager, cfg.Server.ShutdownTimeout)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	shutdownManager(logger, manager, cfg.Server.ShutdownTimeout)
	logger.Info("Shutdown complete")
	return nil
}

func shutdownManager(logger *zap.Logger, manager *orchestrator.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		logger.Warn("Download manager shutdown incomplete", zap.Error(err))
	}
}

func managerSettings(s config.Settings) orchestrator.Settings {
	return orchestrator.Settings{
		DownloadDir:    s.DownloadPath,
		OrganizeByDate: s.OrganizeByDate,
		MaxConcurrent:  s.MaxConcurrentDownloads,
	}
}

func mirrorConfig(c config.MirrorConfig) mirror.Config {
	return mirror.Config{
		Bucket:         c.Bucket,
		Prefix:         c.Prefix,
		Region:         c.Region,
		Endpoint:       c.Endpoint,
		Profile:        c.Profile,
		ForcePathStyle: c.ForcePathStyle,
		DetectRegion:   c.DetectRegion,
		StorageClass:   c.StorageClass,
	}
}

// signalHealthChecker reports healthy while the process is serving.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}
