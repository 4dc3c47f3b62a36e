// Package config loads aidgraph settings from defaults, an optional YAML
// file, AIDGRAPH_* environment variables and bound CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the complete aidgraph configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Server   ServerConfig   `mapstructure:"server"`
	Search   SearchConfig   `mapstructure:"search"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// LogConfig configures logging. Format is "auto", "text" or "json".
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SearchConfig selects the search backend.
type SearchConfig struct {
	Backend     string        `mapstructure:"backend"`
	Endpoint    string        `mapstructure:"endpoint"`
	Token       string        `mapstructure:"token"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxResults  int           `mapstructure:"max_results"`
}

// LLMConfig configures the chat model behind the llm search backend.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// EngineConfig bounds workflow execution.
type EngineConfig struct {
	MaxSteps    int           `mapstructure:"max_steps"`
	NodeTimeout time.Duration `mapstructure:"node_timeout"`
	RunBudget   time.Duration `mapstructure:"run_budget"`
}

// RefreshConfig configures scheduled batch refreshes.
type RefreshConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	BatchDelay  time.Duration `mapstructure:"batch_delay"`
}

// ProfilesConfig locates the profile files.
type ProfilesConfig struct {
	Dir string `mapstructure:"dir"`
}

// SinkConfig selects where verified results are recorded. An empty
// driver disables the sink.
type SinkConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// TracingConfig enables OpenTelemetry spans for engine events.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

var (
	validLogLevels   = []string{"debug", "info", "warn", "error"}
	validLogFormats  = []string{"auto", "text", "json"}
	validStores      = []string{"memory", "sqlite", "mysql", "postgres", "file"}
	validBackends    = []string{"llm", "http"}
	validProviders   = []string{"anthropic", "openai", "google", "mock"}
	validSinkDrivers = []string{"", "sqlite", "mysql", "postgres"}
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(allowed, ", ")))
	}

	check("log.level", c.Log.Level, validLogLevels)
	check("log.format", c.Log.Format, validLogFormats)
	check("store.driver", c.Store.Driver, validStores)
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for "+c.Store.Driver))
	}
	check("search.backend", c.Search.Backend, validBackends)
	if c.Search.Backend == "http" && c.Search.Endpoint == "" {
		errs = append(errs, errors.New("search.endpoint is required for the http backend"))
	}
	if c.Search.Backend == "llm" {
		check("llm.provider", c.LLM.Provider, validProviders)
	}
	if c.Search.MaxAttempts < 1 {
		errs = append(errs, errors.New("search.max_attempts must be at least 1"))
	}
	check("sink.driver", c.Sink.Driver, validSinkDrivers)
	if c.Sink.Driver != "" && c.Sink.DSN == "" {
		errs = append(errs, errors.New("sink.dsn is required when sink.driver is set"))
	}
	if c.Engine.MaxSteps < 1 {
		errs = append(errs, errors.New("engine.max_steps must be at least 1"))
	}
	if c.Engine.NodeTimeout < 0 || c.Engine.RunBudget < 0 {
		errs = append(errs, errors.New("engine timeouts must not be negative"))
	}
	if c.Refresh.Concurrency < 1 {
		errs = append(errs, errors.New("refresh.concurrency must be at least 1"))
	}
	return errors.Join(errs...)
}
