package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete goalplan configuration
type Config struct {
	Generator  GeneratorConfig  `mapstructure:"generator"`
	Validation ValidationConfig `mapstructure:"validation"`
	Fallback   FallbackConfig   `mapstructure:"fallback"`
	Prompt     PromptConfig     `mapstructure:"prompt"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// GeneratorConfig controls the language model used to draft plans
type GeneratorConfig struct {
	// Model is the primary model. BackupModel, if set, is tried when it fails.
	Model       string        `mapstructure:"model"`
	BackupModel string        `mapstructure:"backup_model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	// APIKey falls back to ANTHROPIC_API_KEY when empty.
	APIKey string `mapstructure:"api_key"`
}

// ValidationConfig tunes schema validation of generator output
type ValidationConfig struct {
	// MaxRejectRatio is the share of broken records above which the whole
	// generator response is discarded.
	MaxRejectRatio float64 `mapstructure:"max_reject_ratio"`
}

// FallbackConfig controls the fixed plan used when generation fails
type FallbackConfig struct {
	TaskDays float64 `mapstructure:"task_days"`
}

// PromptConfig allows replacing the built-in generation prompt
type PromptConfig struct {
	TemplatePath string `mapstructure:"template_path"`
}

// StoreConfig selects and locates the project store
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "json"
	Path   string `mapstructure:"path"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File receives JSON logs. Empty means text logs on stderr.
	File string `mapstructure:"file"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Generator: GeneratorConfig{
			Model:       "claude-sonnet-4-6",
			MaxTokens:   3000,
			Temperature: 0.3,
			Timeout:     60 * time.Second,
			MaxRetries:  2,
		},
		Validation: ValidationConfig{
			MaxRejectRatio: 0.5,
		},
		Fallback: FallbackConfig{
			TaskDays: 2,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(DataDir(), "goalplan.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every default with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	// Generator defaults
	v.SetDefault("generator.model", defaults.Generator.Model)
	v.SetDefault("generator.backup_model", defaults.Generator.BackupModel)
	v.SetDefault("generator.max_tokens", defaults.Generator.MaxTokens)
	v.SetDefault("generator.temperature", defaults.Generator.Temperature)
	v.SetDefault("generator.timeout", defaults.Generator.Timeout)
	v.SetDefault("generator.max_retries", defaults.Generator.MaxRetries)
	v.SetDefault("generator.api_key", defaults.Generator.APIKey)

	// Validation defaults
	v.SetDefault("validation.max_reject_ratio", defaults.Validation.MaxRejectRatio)

	// Fallback defaults
	v.SetDefault("fallback.task_days", defaults.Fallback.TaskDays)

	// Prompt defaults
	v.SetDefault("prompt.template_path", defaults.Prompt.TemplatePath)

	// Store defaults
	v.SetDefault("store.driver", defaults.Store.Driver)
	v.SetDefault("store.path", defaults.Store.Path)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
}

// New returns a viper instance with defaults, GOALPLAN_* environment
// overrides and the config file loaded. An explicit configFile must exist;
// otherwise ./goalplan.yaml and then ConfigFile() are tried, and a missing
// file is not an error.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("GOALPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("goalplan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "goalplan")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goalplan"
	}
	return filepath.Join(home, ".config", "goalplan")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "goalplan.yaml")
}

// DataDir returns the directory holding the default project store
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "goalplan")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goalplan"
	}
	return filepath.Join(home, ".local", "share", "goalplan")
}
