package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultAPIURL  = "http://localhost:8000"
	DefaultPushURL = "ws://localhost:8000/ws"

	ProtocolREST = "rest"
	ProtocolA2A  = "a2a"
)

type Config struct {
	Backend struct {
		URL       string        `mapstructure:"url"`
		Protocol  string        `mapstructure:"protocol"`
		Timeout   time.Duration `mapstructure:"timeout"`
		RateLimit struct {
			RequestsPerMinute int `mapstructure:"requests_per_minute"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"backend"`
	Push struct {
		URL              string        `mapstructure:"url"`
		Enabled          bool          `mapstructure:"enabled"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	} `mapstructure:"push"`
	UI struct {
		ErrorDisplay time.Duration `mapstructure:"error_display"`
		AltScreen    bool          `mapstructure:"alt_screen"`
	} `mapstructure:"ui"`
	Logging struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"logging"`
}

func DefaultConfig() Config {
	cfg := Config{}
	cfg.Backend.URL = DefaultAPIURL
	cfg.Backend.Protocol = ProtocolREST
	cfg.Backend.Timeout = 30 * time.Second
	// Client-side limiting is opt-in; zero disables it.
	cfg.Backend.RateLimit.RequestsPerMinute = 0
	cfg.Backend.RateLimit.Burst = 10
	cfg.Push.URL = DefaultPushURL
	cfg.Push.Enabled = true
	cfg.Push.HandshakeTimeout = 10 * time.Second
	cfg.UI.ErrorDisplay = 4 * time.Second
	cfg.UI.AltScreen = true
	cfg.Logging.Level = "info"
	cfg.Logging.File = ""
	return cfg
}

func DefaultHomeDir() string {
	if home := os.Getenv("AGENCY_DASHBOARD_HOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".agency-dashboard")
}

func DefaultPath() string {
	return filepath.Join(DefaultHomeDir(), "config.yaml")
}

func (c Config) Validate() error {
	var errs []error
	if err := checkURL(c.Backend.URL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("backend.url: %w", err))
	}
	switch c.Backend.Protocol {
	case ProtocolREST, ProtocolA2A:
	default:
		errs = append(errs, fmt.Errorf("backend.protocol: unknown protocol %q", c.Backend.Protocol))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout: must not be negative"))
	}
	if c.Backend.RateLimit.RequestsPerMinute < 0 || c.Backend.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("backend.rate_limit: must not be negative"))
	}
	if c.Push.Enabled {
		if err := checkURL(c.Push.URL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("push.url: %w", err))
		}
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %s", u.Scheme, strings.Join(schemes, ", "))
}
