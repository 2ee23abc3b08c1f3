package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "e5271b3b76453d51a38d4b8ef086b245746c5d4e6e311e9d45b39a08a0be33cc"

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validYAML() string {
	return `
auth:
  username: operator
  password_sha256: ` + testDigest + `
`
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, validYAML()))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, "./models", cfg.Models.Dir)
	assert.Equal(t, 640, cfg.Models.InputSize)
	assert.Equal(t, "dir", cfg.Source.Kind)
	assert.Equal(t, "eagle-eye", cfg.Counting.Mode)
	assert.Equal(t, "person", cfg.Counting.PersonLabel)
	assert.Equal(t, 10, cfg.Alerts.Capacity)
	assert.Equal(t, 10*time.Second, cfg.Alerts.Cooldown)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
}

func TestLoadRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfigFile(t, "server:\n  addr: ':8080'\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.username")
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, validYAML()+`
server:
  addr: ":9000"
counting:
  mode: lane
  lanes: 4
alerts:
  capacity: 25
  restricted:
    - Knife
    - scissors
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "lane", cfg.Counting.Mode)
	assert.Equal(t, 4, cfg.Counting.Lanes)
	assert.Equal(t, 25, cfg.Alerts.Capacity)
	assert.Equal(t, []string{"knife", "scissors"}, cfg.RestrictedSet())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PEOPLE_COUNTER_ADDR", ":7070")
	t.Setenv("PEOPLE_COUNTER_AUTH_USERNAME", "admin")
	t.Setenv("PEOPLE_COUNTER_CAPACITY", "3")

	cfg, err := Load(writeConfigFile(t, validYAML()))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "admin", cfg.Auth.Username)
	assert.Equal(t, 3, cfg.Alerts.Capacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfigFile(t, "auth: [not a map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidateRejections(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Auth.Username = "operator"
		cfg.Auth.PasswordSHA256 = testDigest
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"short digest", func(c *Config) { c.Auth.PasswordSHA256 = "abc123" }, "password_sha256"},
		{"zero ttl", func(c *Config) { c.Auth.SessionTTL = 0 }, "session_ttl"},
		{"bad source kind", func(c *Config) { c.Source.Kind = "rtsp" }, "source.kind"},
		{"mjpeg without url", func(c *Config) { c.Source.Kind = "mjpeg"; c.Source.URL = "" }, "source.url"},
		{"bad mode", func(c *Config) { c.Counting.Mode = "birdseye" }, "counting.mode"},
		{"bad orientation", func(c *Config) { c.Counting.Orientation = "diagonal" }, "counting.orientation"},
		{"zero lanes", func(c *Config) { c.Counting.Lanes = 0 }, "counting.lanes"},
		{"zero capacity", func(c *Config) { c.Alerts.Capacity = 0 }, "alerts.capacity"},
		{"zero cooldown", func(c *Config) { c.Alerts.Cooldown = 0 }, "alerts.cooldown"},
		{"odd input size", func(c *Config) { c.Models.InputSize = 500 }, "input_size"},
		{"confidence out of range", func(c *Config) { c.Models.Confidence = 1.5 }, "confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, base().Validate())
}

func TestSMTPEnabled(t *testing.T) {
	var smtp SMTPConfig
	assert.False(t, smtp.Enabled())
	smtp.Host = "smtp.example.com"
	assert.False(t, smtp.Enabled())
	smtp.To = "ops@example.com"
	assert.True(t, smtp.Enabled())
}

func TestRestrictedSetNormalizes(t *testing.T) {
	cfg := Default()
	cfg.Alerts.Restricted = []string{" Knife ", "KNIFE", "scissors"}
	set := cfg.RestrictedSet()
	assert.Equal(t, []string{"knife", "scissors"}, set)
	for _, label := range set {
		assert.Equal(t, strings.ToLower(label), label)
	}
}
