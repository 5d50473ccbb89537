// Package app builds the skill's object graph from configuration. Both the
// Lambda entry point and the long-running server use these constructors.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"upload-files-skill/handler"
	"upload-files-skill/internal/config"
	"upload-files-skill/internal/integrations/connector"
	"upload-files-skill/internal/integrations/paramstore"
	"upload-files-skill/internal/integrations/source"
	"upload-files-skill/internal/repository"
	"upload-files-skill/internal/repository/memory"
	"upload-files-skill/internal/storage"
	"upload-files-skill/internal/storage/filesystem"
	s3backend "upload-files-skill/internal/storage/s3"
	"upload-files-skill/internal/usecase"
)

// NewLogger returns a JSON or text slog logger at the configured level.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With(slog.String("service", "upload-files-skill"))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func NewAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Storage.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	return awsCfg, nil
}

func NewParamStore(awsCfg aws.Config, cfg config.Config) (*paramstore.Client, error) {
	return paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.Params.Prefix)
}

// NewObjectStore selects the storage backend.
func NewObjectStore(awsCfg aws.Config, cfg config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return s3backend.NewFromClient(awss3.NewFromConfig(awsCfg), cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.PublicBaseURL)
	case config.StorageFilesystem:
		base := cfg.Storage.PublicBaseURL
		if strings.TrimSpace(base) == "" {
			base = fmt.Sprintf("http://localhost:%d/files", cfg.Server.Port)
		}
		return filesystem.New(cfg.Storage.DataRoot, base)
	default:
		return nil, fmt.Errorf("app: unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// NewSessionStore selects the session backend.
func NewSessionStore(awsCfg aws.Config, cfg config.Config) (usecase.SessionStore, error) {
	ttl, err := cfg.SessionTTL()
	if err != nil {
		return nil, err
	}
	switch cfg.Session.Backend {
	case config.SessionDynamoDB:
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Session.Table, repository.WithTTL(ttl))
	case config.SessionMemory:
		return memory.NewSessionStore(ttl), nil
	default:
		return nil, fmt.Errorf("app: unsupported session backend %q", cfg.Session.Backend)
	}
}

// NewConnector builds the reply client. The app password is read from
// Parameter Store on first use.
func NewConnector(cfg config.Config, params *paramstore.Client) (*connector.Client, error) {
	if strings.TrimSpace(cfg.Bot.AppID) == "" {
		return connector.NewClient()
	}
	if params == nil {
		return nil, errors.New("app: parameter store is required when an app id is configured")
	}
	secret := func(ctx context.Context) (string, error) {
		return params.GetSecret(ctx, cfg.Bot.PasswordParam, cfg.Bot.PasswordField)
	}
	return connector.NewClient(connector.WithCredentials(cfg.Bot.AppID, cfg.Bot.TenantID, secret))
}

func NewSourceClient(cfg config.Config, conn *connector.Client) *source.Client {
	var opts []source.Option
	if !conn.Anonymous() {
		opts = append(opts, source.WithChannelAuth(conn, cfg.Bot.ChannelAuthHosts...))
	}
	return source.NewClient(opts...)
}

func NewRelay(cfg config.Config, src usecase.SourceOpener, store storage.Backend, log *slog.Logger) (*usecase.StreamRelay, error) {
	timeout, err := cfg.RelayTimeout()
	if err != nil {
		return nil, err
	}
	return usecase.NewStreamRelay(src, store, usecase.RelayOptions{
		Container: cfg.Relay.Container,
		Timeout:   timeout,
		MaxBytes:  cfg.Relay.MaxObjectBytes,
		Logger:    log,
	})
}

// NewRunner returns the dialog or the stateless handler. The session store
// is only consulted in dialog mode.
func NewRunner(cfg config.Config, relay *usecase.StreamRelay, sessions func() (usecase.SessionStore, error), log *slog.Logger) (usecase.Runner, error) {
	resolver := &usecase.AttachmentResolver{}
	switch cfg.Relay.Mode {
	case config.ModeStateless:
		return usecase.NewTurnHandler(resolver, relay, log)
	case config.ModeDialog:
		store, err := sessions()
		if err != nil {
			return nil, err
		}
		return usecase.NewRelayDialog(resolver, relay, store, usecase.DialogOptions{
			StaleAfter: relay.Timeout() + 30*time.Second,
			Logger:     log,
		})
	default:
		return nil, fmt.Errorf("app: unsupported relay mode %q", cfg.Relay.Mode)
	}
}

// ManifestOption serves the manifest directory, or nothing when it does not
// exist.
func ManifestOption(cfg config.Config, log *slog.Logger) handler.Option {
	dir := strings.TrimSpace(cfg.Manifest.Dir)
	if dir == "" {
		return handler.WithManifests(nil)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		log.Warn("manifest directory unavailable", slog.String("dir", dir))
		return handler.WithManifests(nil)
	}
	return handler.WithManifests(os.DirFS(dir))
}

// Build wires the full handler from cfg.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*handler.Handler, error) {
	awsCfg, err := NewAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	params, err := NewParamStore(awsCfg, cfg)
	if err != nil {
		return nil, err
	}
	conn, err := NewConnector(cfg, params)
	if err != nil {
		return nil, err
	}
	store, err := NewObjectStore(awsCfg, cfg)
	if err != nil {
		return nil, err
	}
	relay, err := NewRelay(cfg, NewSourceClient(cfg, conn), store, log)
	if err != nil {
		return nil, err
	}
	runner, err := NewRunner(cfg, relay, func() (usecase.SessionStore, error) {
		return NewSessionStore(awsCfg, cfg)
	}, log)
	if err != nil {
		return nil, err
	}
	bot, err := usecase.NewBot(runner, log)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(bot, conn, ManifestOption(cfg, log), handler.WithLogger(log))
}
