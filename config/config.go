// Package config loads meetsync settings from meetsync.toml and MEETSYNC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Api struct {
	Endpoint     string `mapstructure:"endpoint" validate:"required,url"`
	ClientId     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// Insecure disables TLS verification, for staging endpoints only.
	Insecure bool `mapstructure:"insecure"`
}

type Signaling struct {
	Url            string        `mapstructure:"url" validate:"required,url"`
	Heartbeat      time.Duration `mapstructure:"heartbeat" validate:"min=0"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
}

// Relay holds an optional url override and the key pair of the development
// token issuer. Without a key pair credentials come from the API.
type Relay struct {
	Url       string `mapstructure:"url" validate:"omitempty,url"`
	ApiKey    string `mapstructure:"api_key" validate:"required_with=ApiSecret"`
	ApiSecret string `mapstructure:"api_secret" validate:"required_with=ApiKey"`
}

type Speaking struct {
	Threshold      float64       `mapstructure:"threshold" validate:"gt=0,lt=1"`
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	Hangover       time.Duration `mapstructure:"hangover" validate:"min=0"`
	KeepAlive      time.Duration `mapstructure:"keepalive" validate:"gt=0"`
	RecentWindow   time.Duration `mapstructure:"recent_window" validate:"min=0"`
}

type Timer struct {
	Tick time.Duration `mapstructure:"tick" validate:"gt=0"`
}

type Log struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	File  string `mapstructure:"file"`
}

type Config struct {
	Api       Api       `mapstructure:"api"`
	Signaling Signaling `mapstructure:"signaling"`
	Relay     Relay     `mapstructure:"relay"`
	Speaking  Speaking  `mapstructure:"speaking"`
	Timer     Timer     `mapstructure:"timer"`
	Log       Log       `mapstructure:"log"`
}

// DevTokens reports whether relay credentials are minted locally.
func (c Config) DevTokens() bool {
	return len(c.Relay.ApiKey) > 0 && len(c.Relay.ApiSecret) > 0
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.endpoint", "")
	v.SetDefault("api.client_id", "")
	v.SetDefault("api.client_secret", "")
	v.SetDefault("signaling.url", "")
	v.SetDefault("signaling.heartbeat", 10*time.Second)
	v.SetDefault("signaling.reconnect_delay", 2*time.Second)
	v.SetDefault("relay.url", "")
	v.SetDefault("relay.api_key", "")
	v.SetDefault("relay.api_secret", "")
	v.SetDefault("speaking.threshold", 0.02)
	v.SetDefault("speaking.sample_interval", 100*time.Millisecond)
	v.SetDefault("speaking.hangover", 800*time.Millisecond)
	v.SetDefault("speaking.keepalive", 8*time.Second)
	v.SetDefault("speaking.recent_window", 3*time.Second)
	v.SetDefault("timer.tick", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads the first meetsync.toml found in paths, or in the working
// directory and $HOME/.config/meetsync when paths is empty. A missing file
// is not an error.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("meetsync")
	v.SetConfigType("toml")
	if len(paths) == 0 {
		paths = []string{"."}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".config", "meetsync"))
		}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("MEETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("cannot read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
