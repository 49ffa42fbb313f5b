package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "PULSEROOM"
	defaultHTTPAddress         = "0.0.0.0:4000"
	defaultDatabasePath        = "pulseroom.db"
	defaultLogLevel            = "info"
	defaultKeepaliveSeconds    = 30
	defaultRenormalizeSeconds  = 0
	defaultSessionNameMaxRunes = 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	KeepaliveInterval   time.Duration
	RenormalizeInterval time.Duration
	SessionNameMaxRunes int
	SeedDatabase        bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.seed", true)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("keepalive.interval_s", defaultKeepaliveSeconds)
	configViper.SetDefault("position.renormalize_interval_s", defaultRenormalizeSeconds)
	configViper.SetDefault("session.name_max_runes", defaultSessionNameMaxRunes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		KeepaliveInterval:   time.Duration(configViper.GetInt("keepalive.interval_s")) * time.Second,
		RenormalizeInterval: time.Duration(configViper.GetInt("position.renormalize_interval_s")) * time.Second,
		SessionNameMaxRunes: configViper.GetInt("session.name_max_runes"),
		SeedDatabase:        configViper.GetBool("database.seed"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepalive.interval_s must be positive")
	}
	if c.RenormalizeInterval < 0 {
		return fmt.Errorf("position.renormalize_interval_s must not be negative")
	}
	if c.SessionNameMaxRunes <= 0 {
		return fmt.Errorf("session.name_max_runes must be positive")
	}
	return nil
}
