package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the full runtime configuration for the people counter server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Models   ModelConfig    `yaml:"models"`
	Source   SourceConfig   `yaml:"source"`
	Counting CountingConfig `yaml:"counting"`
	Alerts   AlertConfig    `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

type AuthConfig struct {
	Username       string        `yaml:"username"`
	PasswordSHA256 string        `yaml:"password_sha256"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

type ModelConfig struct {
	Dir         string  `yaml:"dir"`
	LibraryPath string  `yaml:"library_path"`
	Default     string  `yaml:"default"`
	InputSize   int     `yaml:"input_size"`
	Confidence  float64 `yaml:"confidence"`
	IoU         float64 `yaml:"iou"`
	// Names overrides the built-in COCO class labels when set.
	Names []string `yaml:"names"`
}

type SourceConfig struct {
	Kind string `yaml:"kind"` // "dir" or "mjpeg"
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
	FPS  int    `yaml:"fps"`
}

type CountingConfig struct {
	Mode        string `yaml:"mode"` // "eagle-eye" or "lane"
	Lanes       int    `yaml:"lanes"`
	Orientation string `yaml:"orientation"` // "vertical" or "horizontal"
	PersonLabel string `yaml:"person_label"`
}

type AlertConfig struct {
	Capacity    int           `yaml:"capacity"`
	Restricted  []string      `yaml:"restricted"`
	Cooldown    time.Duration `yaml:"cooldown"`
	HistorySize int           `yaml:"history_size"`
	SMTP        SMTPConfig    `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Enabled reports whether outbound email is configured at all.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.To != ""
}

type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
			SnapshotDir: "./snapshots",
		},
		Auth: AuthConfig{
			SessionTTL: 12 * time.Hour,
		},
		Models: ModelConfig{
			Dir:        "./models",
			InputSize:  640,
			Confidence: 0.25,
			IoU:        0.45,
		},
		Source: SourceConfig{
			Kind: "dir",
			Path: "./frames",
			FPS:  15,
		},
		Counting: CountingConfig{
			Mode:        "eagle-eye",
			Lanes:       2,
			Orientation: "vertical",
			PersonLabel: "person",
		},
		Alerts: AlertConfig{
			Capacity:    10,
			Cooldown:    10 * time.Second,
			HistorySize: 16,
			SMTP: SMTPConfig{
				Port: 465,
			},
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PEOPLE_COUNTER_CONFIG_PATH")
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("PEOPLE_COUNTER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if addr := os.Getenv("PEOPLE_COUNTER_METRICS_ADDR"); addr != "" {
		cfg.Server.MetricsAddr = addr
	}
	if user := os.Getenv("PEOPLE_COUNTER_AUTH_USERNAME"); user != "" {
		cfg.Auth.Username = user
	}
	if digest := os.Getenv("PEOPLE_COUNTER_AUTH_PASSWORD_SHA256"); digest != "" {
		cfg.Auth.PasswordSHA256 = digest
	}
	if dir := os.Getenv("PEOPLE_COUNTER_MODEL_DIR"); dir != "" {
		cfg.Models.Dir = dir
	}
	if lib := os.Getenv("PEOPLE_COUNTER_ONNX_LIBRARY"); lib != "" {
		cfg.Models.LibraryPath = lib
	}
	if pass := os.Getenv("PEOPLE_COUNTER_SMTP_PASSWORD"); pass != "" {
		cfg.Alerts.SMTP.Password = pass
	}
	if capStr := os.Getenv("PEOPLE_COUNTER_CAPACITY"); capStr != "" {
		if capacity, err := strconv.Atoi(capStr); err == nil {
			cfg.Alerts.Capacity = capacity
		}
	}
	if level := os.Getenv("PEOPLE_COUNTER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Auth.Username == "" || c.Auth.PasswordSHA256 == "" {
		return fmt.Errorf("auth.username and auth.password_sha256 are required")
	}
	if len(c.Auth.PasswordSHA256) != 64 {
		return fmt.Errorf("auth.password_sha256 must be a hex SHA-256 digest")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	switch c.Source.Kind {
	case "dir":
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for source.kind %q", c.Source.Kind)
		}
	case "mjpeg":
		if c.Source.URL == "" {
			return fmt.Errorf("source.url is required for source.kind %q", c.Source.Kind)
		}
	default:
		return fmt.Errorf("unknown source.kind %q", c.Source.Kind)
	}
	if c.Source.FPS <= 0 {
		return fmt.Errorf("source.fps must be positive")
	}
	switch c.Counting.Mode {
	case "eagle-eye", "lane":
	default:
		return fmt.Errorf("unknown counting.mode %q", c.Counting.Mode)
	}
	switch c.Counting.Orientation {
	case "vertical", "horizontal":
	default:
		return fmt.Errorf("unknown counting.orientation %q", c.Counting.Orientation)
	}
	if c.Counting.Lanes < 1 {
		return fmt.Errorf("counting.lanes must be at least 1")
	}
	if c.Counting.PersonLabel == "" {
		return fmt.Errorf("counting.person_label must not be empty")
	}
	if c.Alerts.Capacity < 1 {
		return fmt.Errorf("alerts.capacity must be at least 1")
	}
	if c.Alerts.Cooldown <= 0 {
		return fmt.Errorf("alerts.cooldown must be positive")
	}
	if c.Models.InputSize <= 0 || c.Models.InputSize%32 != 0 {
		return fmt.Errorf("models.input_size must be a positive multiple of 32")
	}
	if c.Models.Confidence <= 0 || c.Models.Confidence >= 1 {
		return fmt.Errorf("models.confidence must be in (0, 1)")
	}
	if c.Models.IoU <= 0 || c.Models.IoU >= 1 {
		return fmt.Errorf("models.iou must be in (0, 1)")
	}
	if _, err := parseRestricted(c.Alerts.Restricted); err != nil {
		return err
	}
	return nil
}

// RestrictedSet returns the normalized (lowercased, trimmed) restricted labels.
func (c Config) RestrictedSet() []string {
	set, _ := parseRestricted(c.Alerts.Restricted)
	return set
}

func parseRestricted(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, label := range raw {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			return nil, fmt.Errorf("alerts.restricted contains an empty label")
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out, nil
}
