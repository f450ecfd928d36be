package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ImagesCfg struct {
	Extension         string `yaml:"extension" json:"extension"`                     // Extension of generated images, without dot (default: png)
	Strategy          string `yaml:"strategy" json:"strategy"`                       // "readdir" (default) or "find"
	FindWithinSeconds int    `yaml:"find_within_seconds" json:"find_within_seconds"` // -ctime window for the find strategy
	Watch             bool   `yaml:"watch" json:"watch"`                             // Push image.created events from an fsnotify watcher
}

type CommandCfg struct {
	TimeoutSeconds int  `yaml:"timeout_seconds" json:"timeout_seconds"` // Per-command timeout (default: 3600)
	DryRun         bool `yaml:"dry_run" json:"dry_run"`                 // Log commands without executing them
}

type QueueCfg struct {
	PollIntervalSeconds int  `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	Autostart           bool `yaml:"autostart" json:"autostart"` // Start draining the queue when the daemon starts
}

type ServerCfg struct {
	Address        string  `yaml:"address" json:"address"`
	BodyLimitBytes int64   `yaml:"body_limit_bytes" json:"body_limit_bytes"`
	RateLimit      float64 `yaml:"rate_limit" json:"rate_limit"` // Requests per second per client
	RateBurst      int     `yaml:"rate_burst" json:"rate_burst"`
}

type AuthCfg struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Secret        string `yaml:"secret" json:"-"`
	TokenFile     string `yaml:"token_file" json:"token_file"` // Controller token written here at startup
	TokenTTLHours int    `yaml:"token_ttl_hours" json:"token_ttl_hours"`
}

type PrometheusCfg struct {
	Port int `yaml:"port" json:"port"`
}

type LoggingCfg struct {
	Dir          string `yaml:"dir" json:"dir"`                     // Empty disables the log file
	Level        string `yaml:"level" json:"level"`                 // debug, info, warn, error
	RotationDays int    `yaml:"rotation_days" json:"rotation_days"` // Days to keep logs before rotation
	Console      bool   `yaml:"console" json:"console"`             // Human readable output on stdout
}

type Config struct {
	StableDiffusionDir string        `yaml:"stable_diffusion_dir" json:"stable_diffusion_dir"`
	PythonPath         string        `yaml:"python_path" json:"python_path"`
	OutputDir          string        `yaml:"output_dir" json:"output_dir"` // Relative paths resolve against stable_diffusion_dir
	AllowedRoots       []string      `yaml:"allowed_roots" json:"allowed_roots"`
	Images             ImagesCfg     `yaml:"images" json:"images"`
	Command            CommandCfg    `yaml:"command" json:"command"`
	Queue              QueueCfg      `yaml:"queue" json:"queue"`
	Server             ServerCfg     `yaml:"server" json:"server"`
	Auth               AuthCfg       `yaml:"auth" json:"auth"`
	Prometheus         PrometheusCfg `yaml:"prometheus" json:"prometheus"`
	Logging            LoggingCfg    `yaml:"logging" json:"logging"`
	DatabasePath       string        `yaml:"database_path" json:"database_path"` // Path to SQLite database for run history
}

const (
	StrategyReadDir = "readdir"
	StrategyFind    = "find"
)

var (
	errNoSDDir           = errors.New("configuration must specify stable_diffusion_dir")
	errInvalidPath       = errors.New("path must be absolute")
	errInvalidStrategy   = errors.New("images.strategy must be readdir or find")
	errInvalidLevel      = errors.New("logging.level must be debug, info, warn or error")
	errMissingAuthSecret = errors.New("auth.secret is required when auth is enabled")
	errNegativeTimeout   = errors.New("command.timeout_seconds cannot be negative")
)

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a configuration held in memory.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) validateAndDefault() error {
	if strings.TrimSpace(c.StableDiffusionDir) == "" {
		return errNoSDDir
	}
	sdDir, err := cleanAbsolute(c.StableDiffusionDir)
	if err != nil {
		return fmt.Errorf("stable_diffusion_dir: %w", err)
	}
	c.StableDiffusionDir = sdDir

	if c.PythonPath == "" {
		c.PythonPath = "python"
	}

	if c.OutputDir == "" {
		c.OutputDir = "outputs/txt2img-samples"
	}
	if !filepath.IsAbs(c.OutputDir) {
		c.OutputDir = filepath.Join(c.StableDiffusionDir, c.OutputDir)
	}
	c.OutputDir = filepath.Clean(c.OutputDir)

	if len(c.AllowedRoots) == 0 {
		c.AllowedRoots = []string{c.StableDiffusionDir}
	}
	roots := make([]string, 0, len(c.AllowedRoots)+1)
	for _, r := range c.AllowedRoots {
		cr, err := cleanAbsolute(r)
		if err != nil {
			return fmt.Errorf("allowed_roots: %w", err)
		}
		roots = append(roots, cr)
	}
	if !containsPrefix(roots, c.OutputDir) {
		roots = append(roots, c.OutputDir)
	}
	c.AllowedRoots = roots

	// Images
	c.Images.Extension = strings.TrimPrefix(c.Images.Extension, ".")
	if c.Images.Extension == "" {
		c.Images.Extension = "png"
	}
	switch c.Images.Strategy {
	case "":
		c.Images.Strategy = StrategyReadDir
	case StrategyReadDir, StrategyFind:
	default:
		return fmt.Errorf("%w: %q", errInvalidStrategy, c.Images.Strategy)
	}
	if c.Images.FindWithinSeconds <= 0 {
		c.Images.FindWithinSeconds = 2130
	}

	// Commands
	if c.Command.TimeoutSeconds < 0 {
		return errNegativeTimeout
	}
	if c.Command.TimeoutSeconds == 0 {
		c.Command.TimeoutSeconds = 3600 // Default: one hour, sampling on CPU is slow
	}

	if c.Queue.PollIntervalSeconds <= 0 {
		c.Queue.PollIntervalSeconds = 5
	}

	// Server
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:7860"
	}
	if c.Server.BodyLimitBytes <= 0 {
		c.Server.BodyLimitBytes = 1 << 20 // 1MB
	}
	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = 50
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 100
	}

	// Auth
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errMissingAuthSecret
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 720
	}

	if c.Prometheus.Port == 0 {
		c.Prometheus.Port = 9091
	}

	// Logging
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", errInvalidLevel, c.Logging.Level)
	}
	if c.Logging.RotationDays <= 0 {
		c.Logging.RotationDays = 30
	}

	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath()
	}

	return nil
}

// DefaultDatabasePath is the run database location when database_path is unset.
func DefaultDatabasePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sd-launcher", "runs.db")
	}
	return filepath.Join(os.TempDir(), "sd-launcher", "runs.db")
}

func cleanAbsolute(p string) (string, error) {
	if p == "" {
		return "", errInvalidPath
	}
	cp := filepath.Clean(p)
	if !filepath.IsAbs(cp) {
		return "", fmt.Errorf("%w: %s", errInvalidPath, p)
	}
	return cp, nil
}

func containsPrefix(roots []string, p string) bool {
	for _, r := range roots {
		if p == r || strings.HasPrefix(p, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Command.TimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalSeconds) * time.Second
}

func (c *Config) FindWithin() time.Duration {
	return time.Duration(c.Images.FindWithinSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c *Config) PrometheusAddress() string {
	return fmt.Sprintf(":%d", c.Prometheus.Port)
}
