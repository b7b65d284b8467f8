package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the widget configuration
type Config struct {
	Credential string          `mapstructure:"credential"`
	Group      string          `mapstructure:"group"`
	SubGroup   string          `mapstructure:"sub_group"`
	Transport  TransportConfig `mapstructure:"transport"`
	History    HistoryConfig   `mapstructure:"history"`
	Sync       SyncConfig      `mapstructure:"sync"`
	Store      StoreConfig     `mapstructure:"store"`
	Log        LogConfig       `mapstructure:"log"`
}

// TransportConfig selects and addresses the realtime transport
type TransportConfig struct {
	Kind    string `mapstructure:"kind"`
	BaseURL string `mapstructure:"base_url"`
	Path    string `mapstructure:"path"`
}

// HistoryConfig addresses the history endpoint
type HistoryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the synchronization core
type SyncConfig struct {
	Reconcile    string `mapstructure:"reconcile"`
	HTTPFallback bool   `mapstructure:"http_fallback"`
}

// StoreConfig selects the message store backend
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// LogConfig holds the logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const envPrefix = "CHATWIDGET"

func defaults(v *viper.Viper) {
	v.SetDefault("credential", "")
	v.SetDefault("group", "")
	v.SetDefault("sub_group", "")
	v.SetDefault("transport.kind", "stream")
	v.SetDefault("transport.base_url", "")
	v.SetDefault("transport.path", "/chat")
	v.SetDefault("history.base_url", "")
	v.SetDefault("history.timeout", 10*time.Second)
	v.SetDefault("sync.reconcile", "replace")
	v.SetDefault("sync.http_fallback", false)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load loads the configuration from config.yaml (or $CONFIG_PATH) and CHATWIDGET_* variables.
// A missing config file is not an error; every key has a default or may come from the
// environment.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config.History.BaseURL == "" {
		config.History.BaseURL = config.Transport.BaseURL
	}

	return &config, nil
}

// Validate reports every missing or malformed setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Group) == "" {
		errs = append(errs, errors.New("group is required"))
	}
	if c.Transport.BaseURL == "" {
		errs = append(errs, errors.New("transport.base_url is required"))
	}
	switch strings.ToLower(c.Transport.Kind) {
	case "stream", "eventbus":
	default:
		errs = append(errs, fmt.Errorf("transport.kind must be stream or eventbus, got %q", c.Transport.Kind))
	}
	switch strings.ToLower(c.Sync.Reconcile) {
	case "append", "replace":
	default:
		errs = append(errs, fmt.Errorf("sync.reconcile must be append or replace, got %q", c.Sync.Reconcile))
	}
	return errors.Join(errs...)
}
