// Package config loads engine configuration from file, environment, and flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

// Config is the engine configuration.
type Config struct {
	// WorkspaceRoot is the directory tasks operate on.
	WorkspaceRoot string `mapstructure:"workspace_root"`
	// StateDBPath is the sqlite database location. Defaults to
	// <workspace>/.orchestrix/state.db.
	StateDBPath string `mapstructure:"state_db_path"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Model struct {
		Provider string `mapstructure:"provider"`
		Model    string `mapstructure:"model"`
		BaseURL  string `mapstructure:"base_url"`
		// APIKeyEnv names the environment variable holding the key; the key
		// itself never lives in config files.
		APIKeyEnv string `mapstructure:"api_key_env"`
	} `mapstructure:"model"`

	SubAgent struct {
		AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
		RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	} `mapstructure:"sub_agent"`

	Approval struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"approval"`

	HTTP struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"http"`
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "ORCHESTRIX",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "ORCHESTRIX",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration with precedence: flags > env > file > defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", l.configFile, err)
		}
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".orchestrix")
		l.v.AddConfigPath(".")
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errorsAs(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
			// No config file is fine; defaults + env apply.
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.WorkspaceRoot != "" {
		abs, err := filepath.Abs(cfg.WorkspaceRoot)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace root: %w", err)
		}
		cfg.WorkspaceRoot = abs
	}
	if cfg.StateDBPath == "" && cfg.WorkspaceRoot != "" {
		cfg.StateDBPath = filepath.Join(cfg.WorkspaceRoot, ".orchestrix", "state.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("workspace_root", ".")
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("model.provider", "")
	l.v.SetDefault("model.api_key_env", "ORCHESTRIX_API_KEY")
	l.v.SetDefault("sub_agent.attempt_timeout", 90*time.Second)
	l.v.SetDefault("sub_agent.retry_backoff", 500*time.Millisecond)
	l.v.SetDefault("approval.timeout", 300*time.Second)
	l.v.SetDefault("http.listen", "127.0.0.1:7423")
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "workspace_root is required")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		return core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("invalid log format %q", c.Log.Format))
	}
	if c.SubAgent.AttemptTimeout < time.Second {
		return core.ErrValidation(core.CodeInvalidConfig,
			"sub_agent.attempt_timeout must be at least 1s")
	}
	return nil
}

// errorsAs is a tiny wrapper so the viper sentinel check reads cleanly above.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
