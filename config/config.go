package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ModeLive   = "live"
	ModeReport = "report"
)

// Source is one candidate API endpoint family. Sources are tried in the order
// they appear in the configuration.
type Source struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// Config represents the application configuration
type Config struct {
	HTTPAddr        string            `toml:"http_addr"`
	Mode            string            `toml:"mode"`
	RefreshInterval int               `toml:"refresh_interval"` // seconds, 0 = mode default
	FetchTimeout    int               `toml:"fetch_timeout"`    // seconds per source attempt
	TrafficDays     int               `toml:"traffic_days"`
	ReportURL       string            `toml:"report_url"`
	LogLevel        string            `toml:"log_level"`
	LogJSON         bool              `toml:"log_json"`
	Sources         []Source          `toml:"source"`
	Hostname        map[string]string `toml:"hostname"` // IP -> display name
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":9092",
		Mode:            ModeLive,
		RefreshInterval: 0,
		FetchTimeout:    4,
		TrafficDays:     7,
		ReportURL:       "http://192.168.1.1/cgi-bin/advanced-report.sh",
		LogLevel:        "info",
		Sources: []Source{
			{Name: "advanced", URL: "http://192.168.1.1/cgi-bin/advanced-api.sh"},
			{Name: "legacy", URL: "http://192.168.1.1/cgi-bin/netmon-api.sh"},
		},
		Hostname: map[string]string{},
	}
}

func LoadConfig(path string, cfg *Config) error {
	if path != "" {
		_, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("error decoding config file: %v", err)
		}
	}
	return nil
}

// Interval returns the refresh period: the explicit setting, or 5s in live
// mode and 30s in report mode.
func (c Config) Interval() time.Duration {
	if c.RefreshInterval > 0 {
		return time.Duration(c.RefreshInterval) * time.Second
	}
	if c.Mode == ModeReport {
		return 30 * time.Second
	}
	return 5 * time.Second
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeReport:
	default:
		return fmt.Errorf("unsupported mode %q", c.Mode)
	}
	if c.RefreshInterval < 0 {
		return errors.New("refresh_interval must be >= 0")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetch_timeout must be > 0")
	}
	if c.TrafficDays <= 0 {
		return errors.New("traffic_days must be > 0")
	}
	if len(c.Sources) == 0 {
		return errors.New("at least one [[source]] is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("source #%d: name is required", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("source %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if err := checkURL(s.URL); err != nil {
			return fmt.Errorf("source %q: %w", s.Name, err)
		}
	}
	if c.ReportURL != "" {
		if err := checkURL(c.ReportURL); err != nil {
			return fmt.Errorf("report_url: %w", err)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
