// Package config loads taskmesh settings from defaults, an optional config
// file and TASKMESH_-prefixed environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/repository"
	"github.com/taskmesh/taskmesh/task"
)

// Repository backends selectable via config.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendMySQL  = "mysql"
)

// RuntimeConfig bounds task execution.
type RuntimeConfig struct {
	TurnLimit        int    `mapstructure:"turnLimit"`
	StepRetries      int    `mapstructure:"stepRetries"`
	DefaultAgentName string `mapstructure:"defaultAgentName"`
}

// RepositoryConfig selects and parameterizes the runtime repository.
type RepositoryConfig struct {
	Backend string `mapstructure:"backend"`
	// FileRoot is the reference directory of the file backend.
	FileRoot string `mapstructure:"fileRoot"`
	// MySQLDSN is the data source name of the mysql backend.
	MySQLDSN string `mapstructure:"mysqlDsn"`
}

// ProviderConfig selects the model provider backing agents and the planner.
type ProviderConfig struct {
	Name        string  `mapstructure:"name"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"apiKey"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"maxTokens"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Config is the complete taskmesh configuration.
type Config struct {
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.turnLimit", 16)
	v.SetDefault("runtime.stepRetries", 2)
	v.SetDefault("runtime.defaultAgentName", "assistant")

	v.SetDefault("repository.backend", BackendMemory)
	v.SetDefault("repository.fileRoot", "./tasks")
	v.SetDefault("repository.mysqlDsn", "")

	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.apiKey", "")
	v.SetDefault("provider.temperature", 1.0)
	v.SetDefault("provider.maxTokens", 4096)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads configuration from defaults, an optional taskmesh.yaml in the
// working directory, and TASKMESH_ environment variables.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration, searching the given directory for the
// config file first.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE names.
	_ = v.BindEnv("runtime.turnLimit", "TASKMESH_RUNTIME_TURN_LIMIT")
	_ = v.BindEnv("runtime.stepRetries", "TASKMESH_RUNTIME_STEP_RETRIES")
	_ = v.BindEnv("runtime.defaultAgentName", "TASKMESH_RUNTIME_DEFAULT_AGENT_NAME")
	_ = v.BindEnv("repository.fileRoot", "TASKMESH_REPOSITORY_FILE_ROOT")
	_ = v.BindEnv("repository.mysqlDsn", "TASKMESH_REPOSITORY_MYSQL_DSN")
	_ = v.BindEnv("provider.apiKey", "TASKMESH_PROVIDER_API_KEY")
	_ = v.BindEnv("provider.maxTokens", "TASKMESH_PROVIDER_MAX_TOKENS")

	v.SetConfigName("taskmesh")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BuildRepository constructs the runtime repository selected by the
// repository section.
func (c RepositoryConfig) BuildRepository(logger logging.Logger) (task.RuntimeRepository, error) {
	switch c.Backend {
	case BackendFile:
		return repository.NewFileRepository(c.FileRoot, func(o *repository.FileRepositoryOptions) {
			if logger != nil {
				o.Logger = logger
			}
		})
	case BackendMySQL:
		return repository.NewMySQLRepository(c.MySQLDSN)
	default:
		return repository.NewInMemoryRepository(), nil
	}
}

// BuildLogger constructs the structured logger described by the logging
// section.
func (c LoggingConfig) BuildLogger() logging.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	output := os.Stdout
	if c.Output == "stderr" {
		output = os.Stderr
	}
	return logging.New(logging.Config{Level: level, Format: c.Format, Output: output})
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Repository.Backend {
	case BackendMemory, BackendFile, BackendMySQL:
	default:
		return fmt.Errorf("config: unknown repository backend %q", c.Repository.Backend)
	}
	if c.Repository.Backend == BackendFile && c.Repository.FileRoot == "" {
		return fmt.Errorf("config: repository.fileRoot is required for the file backend")
	}
	if c.Repository.Backend == BackendMySQL && c.Repository.MySQLDSN == "" {
		return fmt.Errorf("config: repository.mysqlDsn is required for the mysql backend")
	}
	if c.Runtime.TurnLimit <= 0 {
		return fmt.Errorf("config: runtime.turnLimit must be positive")
	}
	if c.Runtime.StepRetries < 0 {
		return fmt.Errorf("config: runtime.stepRetries must not be negative")
	}
	return nil
}
