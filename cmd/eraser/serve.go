package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/metaeraser/internal/channel"
	"github.com/memohai/metaeraser/internal/channel/adapters/telegram"
	"github.com/memohai/metaeraser/internal/channel/inbound"
	"github.com/memohai/metaeraser/internal/config"
	"github.com/memohai/metaeraser/internal/flow"
	"github.com/memohai/metaeraser/internal/handlers"
	"github.com/memohai/metaeraser/internal/healthcheck"
	channelchecker "github.com/memohai/metaeraser/internal/healthcheck/checkers/channel"
	"github.com/memohai/metaeraser/internal/logger"
	"github.com/memohai/metaeraser/internal/media"
	"github.com/memohai/metaeraser/internal/messages"
	"github.com/memohai/metaeraser/internal/server"
	"github.com/memohai/metaeraser/internal/storage"
	"github.com/memohai/metaeraser/internal/version"
)

const (
	telegramConfigID = "telegram-default"
	telegramBotID    = "eraser"

	// Covers one Telegram long poll plus in-flight request cleanup.
	shutdownTimeout = time.Minute
)

func runServe(configPath string) error {
	app := fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(configPath) },
			provideLogger,
			provideTelegramAdapter,
			provideChannelConfig,
			provideChannelRegistry,
			provideStore,
			provideSweeper,
			provideCatalog,
			provideStrippers,
			provideOrchestrator,
			provideProcessor,
			provideChannelManager,
			provideHealthSuite,
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startChannelManager,
			startServer,
		),
		fx.StopTimeout(shutdownTimeout),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideTelegramAdapter(log *slog.Logger, cfg config.Config) *telegram.TelegramAdapter {
	return telegram.NewTelegramAdapter(log, telegram.Options{
		RequestTimeout:  cfg.Timeouts.UploadDuration(),
		DownloadTimeout: cfg.Timeouts.DownloadDuration(),
	})
}

func provideChannelConfig(cfg config.Config) channel.ChannelConfig {
	return channel.ChannelConfig{
		ID:          telegramConfigID,
		BotID:       telegramBotID,
		ChannelType: telegram.Type,
		Credentials: telegram.Credentials(cfg.Telegram.Token, cfg.Telegram.APIEndpoint),
	}
}

func provideChannelRegistry(adapter *telegram.TelegramAdapter) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)
	return registry
}

func provideStore(log *slog.Logger, cfg config.Config, registry *channel.Registry, channelCfg channel.ChannelConfig) (*storage.Store, error) {
	opener, ok := registry.GetFileOpener(channelCfg.ChannelType)
	if !ok {
		return nil, fmt.Errorf("channel %s cannot download files", channelCfg.ChannelType)
	}
	return storage.NewStore(log, afero.NewOsFs(), cfg.Storage.StagingDir, channel.BindFileOpener(opener, channelCfg))
}

func provideSweeper(log *slog.Logger, cfg config.Config, store *storage.Store) *storage.Sweeper {
	return storage.NewSweeper(log, store, cfg.Storage.SweepSchedule, cfg.Storage.OrphanTTLDuration())
}

func provideCatalog(cfg config.Config) (*messages.Catalog, error) {
	return messages.Load(cfg.Messages.Path)
}

func provideStrippers(log *slog.Logger, cfg config.Config) media.Strippers {
	return media.NewStrippers(log, media.Options{
		JPEGQuality: cfg.Image.JPEGQuality,
		Video: media.VideoOptions{
			FFmpegPath:  cfg.Video.FFmpeg,
			FFprobePath: cfg.Video.FFprobe,
			VideoCodec:  cfg.Video.VideoCodec,
			AudioCodec:  cfg.Video.AudioCodec,
		},
	})
}

func provideOrchestrator(log *slog.Logger, cfg config.Config, store *storage.Store, strippers media.Strippers, catalog *messages.Catalog) *flow.Orchestrator {
	return flow.NewOrchestrator(log, store, strippers, cfg.Limits.Table(), catalog, flow.Options{
		DownloadTimeout: cfg.Timeouts.DownloadDuration(),
		UploadTimeout:   cfg.Timeouts.UploadDuration(),
		MinEditInterval: cfg.Progress.MinEditDuration(),
	})
}

func provideProcessor(log *slog.Logger, cfg config.Config, orchestrator *flow.Orchestrator, catalog *messages.Catalog) *inbound.Processor {
	return inbound.NewProcessor(log, orchestrator, catalog, cfg.Limits.Table(), cfg.Limits.MaxConcurrent)
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry, processor *inbound.Processor) *channel.Manager {
	manager := channel.NewManager(log, registry, processor)
	manager.Use(inbound.IdentityMiddleware())
	return manager
}

func provideHealthSuite(log *slog.Logger, store *storage.Store, manager *channel.Manager) *healthcheck.Suite {
	return healthcheck.NewSuite(log,
		healthcheck.NewProbeChecker("storage.staging", "Staging directory is writable.", store),
		channelchecker.NewChecker(log, manager),
	)
}

func provideServer(log *slog.Logger, cfg config.Config, suite *healthcheck.Suite, orchestrator *flow.Orchestrator) *server.Server {
	if cfg.Server.Addr == "" {
		return nil
	}
	return server.NewServer(log, cfg.Server.Addr, cfg.Server.JWTSecret,
		handlers.NewPingHandler(log, suite, orchestrator),
		handlers.NewHealthHandler(suite),
	)
}

func startSweeper(lc fx.Lifecycle, sweeper *storage.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { return sweeper.Stop(ctx) },
	})
}

func startChannelManager(lc fx.Lifecycle, manager *channel.Manager, channelCfg channel.ChannelConfig) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			fmt.Printf("Starting metadata eraser %s\n", version.GetInfo())
			return manager.EnsureConnection(ctx, channelCfg)
		},
		OnStop: func(ctx context.Context) error {
			return manager.Shutdown(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	if srv == nil {
		logger.Info("health endpoint disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
