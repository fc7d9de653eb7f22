package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/pipekit/internal/pipe"
)

// Config holds the pipekit configuration.
type Config struct {
	Pipe    PipeConfig    `mapstructure:"pipe"`
	Journal JournalConfig `mapstructure:"journal"`
	Log     LogConfig     `mapstructure:"log"`
}

// AccessMode selects who may open a server pipe.
type AccessMode string

const (
	// AccessDefault keeps the OS default access list (same user).
	AccessDefault AccessMode = "default"
	// AccessUnrestricted lets every principal open the pipe.
	AccessUnrestricted AccessMode = "unrestricted"
)

// PipeConfig holds the named pipe settings shared by server and client commands.
type PipeConfig struct {
	Name         string        `mapstructure:"name"`
	Access       AccessMode    `mapstructure:"access"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"` // 0 waits forever
}

// JournalConfig holds the session journal settings.
type JournalConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"` // 0 keeps sessions forever
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"` // Defaults to ~/.config/pipekit/pipekit.log
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Load loads the configuration from the default locations.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific path.
// If configPath is empty, it searches default locations.
func LoadFromPath(configPath string) (*Config, error) {
	v := viper.New()

	// Environment variable support
	v.AutomaticEnv()
	v.SetEnvPrefix("PIPEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pipekit")
		v.SetConfigType("yaml")

		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "pipekit"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pipekit"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Journal.Path = expandPath(cfg.Journal.Path)
	cfg.Log.Path = expandPath(cfg.Log.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults sets default configuration values.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("pipe.name", "pipekit")
	v.SetDefault("pipe.access", string(AccessDefault))
	v.SetDefault("pipe.poll_interval", pipe.DefaultPollInterval)
	v.SetDefault("pipe.read_timeout", 10*time.Second)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", DefaultJournalPath())
	v.SetDefault("journal.retention", 30*24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Pipe.Name == "" {
		return &ValidationError{Field: "pipe.name", Message: "is required"}
	}
	if _, err := c.Pipe.PipeAccess(); err != nil {
		return &ValidationError{Field: "pipe.access", Value: c.Pipe.Access, Message: "must be one of: default, unrestricted"}
	}
	if c.Pipe.PollInterval <= 0 {
		return &ValidationError{Field: "pipe.poll_interval", Value: c.Pipe.PollInterval, Message: "must be positive"}
	}
	if c.Pipe.ReadTimeout < 0 {
		return &ValidationError{Field: "pipe.read_timeout", Value: c.Pipe.ReadTimeout, Message: "must not be negative"}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return &ValidationError{Field: "journal.path", Message: "is required when the journal is enabled"}
	}
	if c.Journal.Retention < 0 {
		return &ValidationError{Field: "journal.retention", Value: c.Journal.Retention, Message: "must not be negative"}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return &ValidationError{Field: "log.level", Value: c.Log.Level, Message: "must be one of: debug, info, warn, error"}
	}
	return nil
}

// PipeAccess maps the configured access mode to a pipe.Access.
func (p PipeConfig) PipeAccess() (pipe.Access, error) {
	return pipe.ParseAccess(string(p.Access))
}

// YAML renders the effective configuration, durations as strings.
func (c *Config) YAML() ([]byte, error) {
	doc := map[string]any{
		"pipe": map[string]any{
			"name":          c.Pipe.Name,
			"access":        string(c.Pipe.Access),
			"poll_interval": c.Pipe.PollInterval.String(),
			"read_timeout":  c.Pipe.ReadTimeout.String(),
			"address":       pipe.FullName(c.Pipe.Name),
		},
		"journal": map[string]any{
			"enabled":   c.Journal.Enabled,
			"path":      c.Journal.Path,
			"retention": c.Journal.Retention.String(),
		},
		"log": map[string]any{
			"level": c.Log.Level,
			"path":  c.Log.Path,
		},
	}
	return yaml.Marshal(doc)
}

// DefaultJournalPath returns the platform-appropriate session journal path.
func DefaultJournalPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "pipekit", "journal.db")
	}
	return "journal.db"
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
