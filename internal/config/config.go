// Package config loads and validates the Conductor configuration from YAML
// or JSON5 files with $include resolution and environment expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Model         ModelConfig         `yaml:"model"`
	Agent         AgentConfig         `yaml:"agent"`
	Session       SessionConfig       `yaml:"session"`
	Tools         ToolsConfig         `yaml:"tools"`
	Execution     ExecutionConfig     `yaml:"execution"`
	Scenario      ScenarioConfig      `yaml:"scenario"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// Driver selects the backend: sqlite, postgres, or memory.
	Driver string `yaml:"driver"`

	// URL is the postgres DSN or the sqlite file path.
	URL string `yaml:"url"`
}

type ModelConfig struct {
	// Provider selects the model backend: anthropic or openai.
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// AgentConfig bounds the turn loop.
type AgentConfig struct {
	MaxToolSteps          int           `yaml:"max_tool_steps"`
	MaxExecutionTime      time.Duration `yaml:"max_execution_time"`
	MaxVideoExecutionTime time.Duration `yaml:"max_video_execution_time"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	SearchQuota           int           `yaml:"search_quota"`
}

type SessionConfig struct {
	MaxHistoryMessages  int `yaml:"max_history_messages"`
	ContextWindowTokens int `yaml:"context_window_tokens"`
}

type ToolsConfig struct {
	// Enabled filters the registry by tool name. Empty enables all tools.
	Enabled []string `yaml:"enabled"`
}

type ExecutionConfig struct {
	PPTPipeline PPTPipelineConfig `yaml:"ppt_pipeline"`
}

type PPTPipelineConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ScenarioConfig tunes the research graph.
type ScenarioConfig struct {
	MaxRecallAttempts int `yaml:"max_recall_attempts"`
	MinPapers         int `yaml:"min_papers"`
}

type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format: text or json.
	Format string `yaml:"format"`

	// Redact lists additional attribute keys scrubbed from log output.
	Redact []string `yaml:"redact"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			URL:    "conductor.db",
		},
		Model: ModelConfig{
			Provider: "anthropic",
		},
		Agent: AgentConfig{
			MaxToolSteps:          10,
			MaxExecutionTime:      5 * time.Minute,
			MaxVideoExecutionTime: 12 * time.Minute,
			IdleTimeout:           30 * time.Second,
			SearchQuota:           1,
		},
		Session: SessionConfig{
			MaxHistoryMessages:  50,
			ContextWindowTokens: 128000,
		},
		Scenario: ScenarioConfig{
			MaxRecallAttempts: 5,
			MinPapers:         3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills zero values from Default.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = def.Server.HTTPPort
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = def.Server.MetricsPort
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.URL == "" {
		c.Database.URL = def.Database.URL
	}
	if c.Model.Provider == "" {
		c.Model.Provider = def.Model.Provider
	}
	if c.Agent.MaxToolSteps == 0 {
		c.Agent.MaxToolSteps = def.Agent.MaxToolSteps
	}
	if c.Agent.MaxExecutionTime == 0 {
		c.Agent.MaxExecutionTime = def.Agent.MaxExecutionTime
	}
	if c.Agent.MaxVideoExecutionTime == 0 {
		c.Agent.MaxVideoExecutionTime = def.Agent.MaxVideoExecutionTime
	}
	if c.Agent.IdleTimeout == 0 {
		c.Agent.IdleTimeout = def.Agent.IdleTimeout
	}
	if c.Agent.SearchQuota == 0 {
		c.Agent.SearchQuota = def.Agent.SearchQuota
	}
	if c.Session.MaxHistoryMessages == 0 {
		c.Session.MaxHistoryMessages = def.Session.MaxHistoryMessages
	}
	if c.Session.ContextWindowTokens == 0 {
		c.Session.ContextWindowTokens = def.Session.ContextWindowTokens
	}
	if c.Scenario.MaxRecallAttempts == 0 {
		c.Scenario.MaxRecallAttempts = def.Scenario.MaxRecallAttempts
	}
	if c.Scenario.MinPapers == 0 {
		c.Scenario.MinPapers = def.Scenario.MinPapers
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres, or memory, got %q", c.Database.Driver)
	}
	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("model.provider must be anthropic or openai, got %q", c.Model.Provider)
	}
	if c.Agent.MaxToolSteps < 1 {
		return fmt.Errorf("agent.max_tool_steps must be positive")
	}
	if c.Agent.MaxVideoExecutionTime < c.Agent.MaxExecutionTime {
		return fmt.Errorf("agent.max_video_execution_time must be >= agent.max_execution_time")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// EnabledToolSet converts the tools filter to the set the registry consumes.
// Nil means all tools are enabled.
func (c *Config) EnabledToolSet() map[string]bool {
	if len(c.Tools.Enabled) == 0 {
		return nil
	}
	out := make(map[string]bool, len(c.Tools.Enabled))
	for _, name := range c.Tools.Enabled {
		out[name] = true
	}
	return out
}
