package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultPort           = 39783
	DefaultRelayTimeout   = "2m"
	DefaultMaxObjectBytes = 200 * 1024 * 1024
	DefaultContainer      = "uploadithelper"
	DefaultDataRoot       = "data"
	DefaultSessionTTL     = "24h"
	DefaultPasswordParam  = "microsoft-app-password"
	DefaultPasswordField  = "password"
	DefaultManifestDir    = "manifest"
)

const (
	StorageS3         = "s3"
	StorageFilesystem = "filesystem"

	SessionDynamoDB = "dynamodb"
	SessionMemory   = "memory"

	ModeDialog    = "dialog"
	ModeStateless = "stateless"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Bot      BotConfig      `toml:"bot"`
	Relay    RelayConfig    `toml:"relay"`
	Storage  StorageConfig  `toml:"storage"`
	Session  SessionConfig  `toml:"session"`
	Params   ParamsConfig   `toml:"params"`
	Manifest ManifestConfig `toml:"manifest"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Port int `toml:"port"`
}

type BotConfig struct {
	AppID    string `toml:"app_id"`
	TenantID string `toml:"tenant_id"`
	// PasswordParam is the SSM parameter holding {"password": "..."}.
	PasswordParam string `toml:"password_param"`
	PasswordField string `toml:"password_field"`
	// ChannelAuthHosts lists attachment hosts that require the bot token.
	ChannelAuthHosts []string `toml:"channel_auth_hosts"`
}

type RelayConfig struct {
	Mode           string `toml:"mode"`
	Timeout        string `toml:"timeout"`
	MaxObjectBytes int64  `toml:"max_object_bytes"`
	Container      string `toml:"container"`
}

type StorageConfig struct {
	Backend       string `toml:"backend"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	PublicBaseURL string `toml:"public_base_url"`
	DataRoot      string `toml:"data_root"`
}

type SessionConfig struct {
	Backend string `toml:"backend"`
	Table   string `toml:"table"`
	TTL     string `toml:"ttl"`
}

type ParamsConfig struct {
	Prefix string `toml:"prefix"`
}

type ManifestConfig struct {
	Dir string `toml:"dir"`
}

// RelayTimeout parses Relay.Timeout.
func (c Config) RelayTimeout() (time.Duration, error) {
	return parsePositiveDuration("relay.timeout", c.Relay.Timeout)
}

// SessionTTL parses Session.TTL.
func (c Config) SessionTTL() (time.Duration, error) {
	return parsePositiveDuration("session.ttl", c.Session.TTL)
}

func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Port: DefaultPort,
		},
		Bot: BotConfig{
			PasswordParam:    DefaultPasswordParam,
			PasswordField:    DefaultPasswordField,
			ChannelAuthHosts: []string{"botframework.com", "trafficmanager.net"},
		},
		Relay: RelayConfig{
			Mode:           ModeDialog,
			Timeout:        DefaultRelayTimeout,
			MaxObjectBytes: DefaultMaxObjectBytes,
			Container:      DefaultContainer,
		},
		Storage: StorageConfig{
			Backend:  StorageS3,
			DataRoot: DefaultDataRoot,
		},
		Session: SessionConfig{
			Backend: SessionDynamoDB,
			TTL:     DefaultSessionTTL,
		},
		Manifest: ManifestConfig{
			Dir: DefaultManifestDir,
		},
	}
}

// Load starts from Default, decodes the TOML file at path when it exists and
// then applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("MICROSOFT_APP_ID", &cfg.Bot.AppID)
	str("MICROSOFT_APP_TENANT_ID", &cfg.Bot.TenantID)
	str("MICROSOFT_APP_PASSWORD_PARAM", &cfg.Bot.PasswordParam)
	str("RELAY_MODE", &cfg.Relay.Mode)
	str("RELAY_TIMEOUT", &cfg.Relay.Timeout)
	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("STORAGE_BUCKET", &cfg.Storage.Bucket)
	str("AWS_REGION", &cfg.Storage.Region)
	str("STORAGE_PUBLIC_BASE_URL", &cfg.Storage.PublicBaseURL)
	str("STORAGE_DATA_ROOT", &cfg.Storage.DataRoot)
	str("SESSION_BACKEND", &cfg.Session.Backend)
	str("STATE_TABLE", &cfg.Session.Table)
	str("PARAM_PREFIX", &cfg.Params.Prefix)
	str("MANIFEST_DIR", &cfg.Manifest.Dir)

	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		cfg.Server.Port = n
	}
	if v, ok := lookup("MAX_OBJECT_BYTES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: MAX_OBJECT_BYTES: %w", err)
		}
		cfg.Relay.MaxObjectBytes = n
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Relay.Mode {
	case ModeDialog, ModeStateless:
	default:
		errs = append(errs, fmt.Errorf("relay.mode %q must be %q or %q", c.Relay.Mode, ModeDialog, ModeStateless))
	}
	if _, err := c.RelayTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.Relay.MaxObjectBytes <= 0 {
		errs = append(errs, errors.New("relay.max_object_bytes must be positive"))
	}

	switch c.Storage.Backend {
	case StorageS3:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			errs = append(errs, errors.New("storage.bucket is required for the s3 backend"))
		}
		if strings.TrimSpace(c.Storage.Region) == "" && strings.TrimSpace(c.Storage.PublicBaseURL) == "" {
			errs = append(errs, errors.New("storage.region or storage.public_base_url is required for the s3 backend"))
		}
	case StorageFilesystem:
		if strings.TrimSpace(c.Storage.DataRoot) == "" {
			errs = append(errs, errors.New("storage.data_root is required for the filesystem backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}

	if c.Relay.Mode == ModeDialog {
		switch c.Session.Backend {
		case SessionDynamoDB:
			if strings.TrimSpace(c.Session.Table) == "" {
				errs = append(errs, errors.New("session.table is required for the dynamodb backend"))
			}
		case SessionMemory:
		default:
			errs = append(errs, fmt.Errorf("session.backend %q is not supported", c.Session.Backend))
		}
		if _, err := c.SessionTTL(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Bot.AppID != "" {
		if strings.TrimSpace(c.Bot.PasswordParam) == "" {
			errs = append(errs, errors.New("bot.password_param is required when bot.app_id is set"))
		}
		if !strings.HasPrefix(c.Bot.PasswordParam, "/") && strings.TrimSpace(c.Params.Prefix) == "" {
			errs = append(errs, errors.New("params.prefix is required for a relative bot.password_param"))
		}
	}

	return errors.Join(errs...)
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}
