package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Client holds the terminal client settings.
type Client struct {
	ServerURL string          `mapstructure:"server_url"`
	LogFile   string          `mapstructure:"log_file"`
	LogLevel  string          `mapstructure:"log_level"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig bounds the exponential backoff used by the live feed.
type ReconnectConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
}

// LoadClient reads an optional YAML file at path and applies COURIER_*
// environment overrides (COURIER_SERVER_URL, COURIER_RECONNECT_MAX, ...).
func LoadClient(path string) (Client, error) {
	v := viper.New()
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("reconnect.initial", "500ms")
	v.SetDefault("reconnect.max", "30s")

	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Client{}, fmt.Errorf("read client config: %w", err)
		}
	}

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return Client{}, fmt.Errorf("decode client config: %w", err)
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	return cfg, nil
}

func (c Client) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return errors.New("server url must start with http:// or https://")
	}
	if c.Reconnect.Initial <= 0 || c.Reconnect.Max < c.Reconnect.Initial {
		return errors.New("reconnect intervals must be positive and initial <= max")
	}
	return nil
}
