package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader on an existing viper instance so
// CLI flags bound to it take part in Load.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "AIDGRAPH"}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load resolves the configuration and validates it.
// Precedence (highest to lowest):
// 1. CLI flags bound with BindPFlag
// 2. Environment variables (AIDGRAPH_*)
// 3. aidgraph.yaml in the working directory
// 4. ~/.config/aidgraph/aidgraph.yaml
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("aidgraph")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "aidgraph"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("store.driver", "sqlite")
	l.v.SetDefault("store.dsn", "aidgraph.db")

	l.v.SetDefault("server.addr", ":8080")
	l.v.SetDefault("server.allowed_origins", []string{"*"})
	l.v.SetDefault("server.request_timeout", "2m")

	l.v.SetDefault("search.backend", "llm")
	l.v.SetDefault("search.endpoint", "")
	l.v.SetDefault("search.token", "")
	l.v.SetDefault("search.max_attempts", 3)
	l.v.SetDefault("search.base_delay", "500ms")
	l.v.SetDefault("search.max_results", 20)

	l.v.SetDefault("llm.provider", "openai")
	l.v.SetDefault("llm.model", "")
	l.v.SetDefault("llm.api_key", "")

	l.v.SetDefault("engine.max_steps", 25)
	l.v.SetDefault("engine.node_timeout", "90s")
	l.v.SetDefault("engine.run_budget", "10m")

	l.v.SetDefault("refresh.concurrency", 4)
	l.v.SetDefault("refresh.batch_delay", "0s")

	l.v.SetDefault("profiles.dir", "profiles")

	l.v.SetDefault("sink.driver", "")
	l.v.SetDefault("sink.dsn", "")

	l.v.SetDefault("tracing.enabled", false)
	l.v.SetDefault("tracing.service_name", "aidgraph")
}
