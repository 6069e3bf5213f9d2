// Package config loads the service configuration.
//
// SOURCES, LOWEST TO HIGHEST PRIORITY:
//  1. Defaults set below
//  2. An optional YAML file (--config, or ./config.yaml if present)
//  3. Environment variables: the upper-cased key, e.g. CONTAINER_LIFETIME=30
//
// A .env file in the working directory is loaded into the environment by
// cmd/server before Load runs.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Config is the flat set of service settings.
type Config struct {
	ImageName         string `mapstructure:"image_name"`
	PullImage         bool   `mapstructure:"pull_image"`
	MaxOutputBytes    int64  `mapstructure:"max_output_bytes"`
	MemMax            string `mapstructure:"mem_max"`
	AdminToken        string `mapstructure:"admin_token"`
	DisplayTokens     bool   `mapstructure:"display_tokens"`
	ContainerLifetime int    `mapstructure:"container_lifetime"` // seconds
	NetworkMode       string `mapstructure:"network_mode"`
	ContainerUser     string `mapstructure:"container_user"`
	SetupDir          string `mapstructure:"setup_dir"`
	TempDir           string `mapstructure:"temp_dir"`
	JournalPath       string `mapstructure:"journal_path"`   // empty disables the journal
	PruneSchedule     string `mapstructure:"prune_schedule"` // empty disables the janitor
	LogLevel          string `mapstructure:"log_level"`
	LogFormat         string `mapstructure:"log_format"`
	Host              string `mapstructure:"ingest_server_host"`
	Port              int    `mapstructure:"ingest_server_port"`

	// AdminTokenGenerated is set when no admin_token was configured and
	// Load generated a random one.
	AdminTokenGenerated bool `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("image_name", "sh3llcod3/codegolf-box")
	v.SetDefault("pull_image", true)
	v.SetDefault("max_output_bytes", 65536)
	v.SetDefault("mem_max", "24m")
	v.SetDefault("admin_token", "")
	v.SetDefault("display_tokens", false)
	v.SetDefault("container_lifetime", 45)
	v.SetDefault("network_mode", "none")
	v.SetDefault("container_user", "nobody")
	v.SetDefault("setup_dir", "setup")
	v.SetDefault("temp_dir", filepath.Join(os.TempDir(), "code-ingest"))
	v.SetDefault("journal_path", ":memory:")
	v.SetDefault("prune_schedule", "@every 10m")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("ingest_server_host", "0.0.0.0")
	v.SetDefault("ingest_server_port", 5050)
}

// Load reads the configuration. path may be empty, in which case a
// config.yaml in the working directory is used when it exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// An empty JOURNAL_PATH or PRUNE_SCHEDULE must be able to switch the
	// feature off.
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	if cfg.AdminToken == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("config: generating admin token: %w", err)
		}
		cfg.AdminToken = token
		cfg.AdminTokenGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every setting that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.ImageName == "" {
		errs = append(errs, errors.New("image_name must not be empty"))
	}
	if c.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_output_bytes must be positive, got %d", c.MaxOutputBytes))
	}
	if mem, err := units.RAMInBytes(c.MemMax); err != nil {
		errs = append(errs, fmt.Errorf("mem_max %q: %w", c.MemMax, err))
	} else if mem <= 0 {
		errs = append(errs, fmt.Errorf("mem_max must be positive, got %q", c.MemMax))
	}
	if c.ContainerLifetime <= 0 {
		errs = append(errs, fmt.Errorf("container_lifetime must be positive, got %d", c.ContainerLifetime))
	}
	if c.NetworkMode == "" {
		errs = append(errs, errors.New("network_mode must not be empty"))
	}
	if c.ContainerUser == "" {
		errs = append(errs, errors.New("container_user must not be empty"))
	}
	if c.TempDir == "" {
		errs = append(errs, errors.New("temp_dir must not be empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("ingest_server_port out of range: %d", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// MemoryBytes is mem_max in bytes. Only valid after Validate succeeded.
func (c *Config) MemoryBytes() int64 {
	n, _ := units.RAMInBytes(c.MemMax)
	return n
}

// Lifetime is container_lifetime as a duration.
func (c *Config) Lifetime() time.Duration {
	return time.Duration(c.ContainerLifetime) * time.Second
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
