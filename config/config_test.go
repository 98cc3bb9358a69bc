package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Interval())
	assert.Equal(t, 4*time.Second, cfg.Timeout())
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netdash.toml")
	err := os.WriteFile(path, []byte(`
mode = "report"
fetch_timeout = 2

[[source]]
name = "lua"
url = "http://router.lan/cgi-bin/netmon-api.lua"

[hostname]
"192.168.1.50" = "Printer"
`), 0o644)
	require.NoError(t, err)

	cfg := DefaultConfig()
	require.NoError(t, LoadConfig(path, &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeReport, cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Interval())
	assert.Equal(t, 2*time.Second, cfg.Timeout())
	assert.Equal(t, []Source{{Name: "lua", URL: "http://router.lan/cgi-bin/netmon-api.lua"}}, cfg.Sources)
	assert.Equal(t, "Printer", cfg.Hostname["192.168.1.50"])
	assert.Equal(t, ":9092", cfg.HTTPAddr)
}

func TestLoadConfigErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, LoadConfig("", &cfg))

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o644))
	assert.Error(t, LoadConfig(path, &cfg))
}

func TestExplicitIntervalWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeReport
	cfg.RefreshInterval = 12
	assert.Equal(t, 12*time.Second, cfg.Interval())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":           func(c *Config) { c.Mode = "batch" },
		"interval":       func(c *Config) { c.RefreshInterval = -1 },
		"timeout":        func(c *Config) { c.FetchTimeout = 0 },
		"traffic days":   func(c *Config) { c.TrafficDays = 0 },
		"no sources":     func(c *Config) { c.Sources = nil },
		"unnamed source": func(c *Config) { c.Sources[0].Name = " " },
		"duplicate":      func(c *Config) { c.Sources[1].Name = c.Sources[0].Name },
		"bad scheme":     func(c *Config) { c.Sources[0].URL = "ftp://router/api" },
		"no host":        func(c *Config) { c.Sources[0].URL = "http:///api" },
		"report url":     func(c *Config) { c.ReportURL = "router/report" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
