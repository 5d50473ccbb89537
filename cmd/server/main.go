package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"upload-files-skill/handler"
	"upload-files-skill/internal/app"
	"upload-files-skill/internal/config"
	"upload-files-skill/internal/integrations/connector"
	"upload-files-skill/internal/integrations/paramstore"
	"upload-files-skill/internal/server"
	"upload-files-skill/internal/storage"
	"upload-files-skill/internal/usecase"
)

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideAWSConfig,
			provideParamStore,
			app.NewConnector,
			app.NewObjectStore,
			fx.Annotate(app.NewSourceClient, fx.As(new(usecase.SourceOpener))),
			app.NewRelay,
			provideRunner,
			usecase.NewBot,
			provideHandler,
			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger := app.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func provideAWSConfig(cfg config.Config) (aws.Config, error) {
	return app.NewAWSConfig(context.Background(), cfg)
}

func provideParamStore(awsCfg aws.Config, cfg config.Config) (*paramstore.Client, error) {
	return app.NewParamStore(awsCfg, cfg)
}

func provideRunner(cfg config.Config, awsCfg aws.Config, relay *usecase.StreamRelay, logger *slog.Logger) (usecase.Runner, error) {
	return app.NewRunner(cfg, relay, func() (usecase.SessionStore, error) {
		return app.NewSessionStore(awsCfg, cfg)
	}, logger)
}

func provideHandler(cfg config.Config, bot *usecase.Bot, conn *connector.Client, logger *slog.Logger) (*handler.Handler, error) {
	return handler.NewHandler(bot, conn, app.ManifestOption(cfg, logger), handler.WithLogger(logger))
}

func provideServer(cfg config.Config, h *handler.Handler, store storage.Backend, logger *slog.Logger) *server.Server {
	filesRoot := ""
	if root, ok := store.(interface{ Root() string }); ok {
		filesRoot = root.Root()
	}
	return server.New(cfg.Server.Port, h, filesRoot, logger)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting skill server",
				slog.String("addr", srv.Addr()),
				slog.String("mode", cfg.Relay.Mode),
				slog.String("storage", cfg.Storage.Backend),
			)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
