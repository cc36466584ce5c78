package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"agency-dashboard/internal/utils"
)

// Load reads path (when it exists) over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Backend.URL = strings.TrimRight(cfg.Backend.URL, "/")
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("backend.url", def.Backend.URL)
	v.SetDefault("backend.protocol", def.Backend.Protocol)
	v.SetDefault("backend.timeout", def.Backend.Timeout)
	v.SetDefault("backend.rate_limit.requests_per_minute", def.Backend.RateLimit.RequestsPerMinute)
	v.SetDefault("backend.rate_limit.burst", def.Backend.RateLimit.Burst)
	v.SetDefault("push.url", def.Push.URL)
	v.SetDefault("push.enabled", def.Push.Enabled)
	v.SetDefault("push.handshake_timeout", def.Push.HandshakeTimeout)
	v.SetDefault("ui.error_display", def.UI.ErrorDisplay)
	v.SetDefault("ui.alt_screen", def.UI.AltScreen)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)

	v.SetEnvPrefix("AGENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The web build read VITE_*; keep honoring them behind the native names.
	_ = v.BindEnv("backend.url", "AGENCY_API_URL", "VITE_API_URL")
	_ = v.BindEnv("push.url", "AGENCY_WS_URL", "VITE_WS_URL")
	return v
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// Marshal encodes cfg as YAML with durations in their string form so the
// file stays hand-editable.
func Marshal(cfg Config) ([]byte, error) {
	doc := map[string]any{
		"backend": map[string]any{
			"url":      cfg.Backend.URL,
			"protocol": cfg.Backend.Protocol,
			"timeout":  cfg.Backend.Timeout.String(),
			"rate_limit": map[string]any{
				"requests_per_minute": cfg.Backend.RateLimit.RequestsPerMinute,
				"burst":               cfg.Backend.RateLimit.Burst,
			},
		},
		"push": map[string]any{
			"url":               cfg.Push.URL,
			"enabled":           cfg.Push.Enabled,
			"handshake_timeout": cfg.Push.HandshakeTimeout.String(),
		},
		"ui": map[string]any{
			"error_display": cfg.UI.ErrorDisplay.String(),
			"alt_screen":    cfg.UI.AltScreen,
		},
		"logging": map[string]any{
			"level": cfg.Logging.Level,
			"file":  cfg.Logging.File,
		},
	}
	return yaml.Marshal(doc)
}
