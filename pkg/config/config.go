// Package config loads the service configuration from a strict YAML file
// with environment overrides for secrets.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Probe kinds.
const (
	ProbeMCP      = "mcp"
	ProbePostgres = "postgres"
)

// Duration is a time.Duration that decodes from YAML duration strings
// ("30s", "2m") as well as integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or integer nanoseconds")
	}
	*d = Duration(n)
	return nil
}

// Config is the full service configuration.
type Config struct {
	RecipeDir string       `yaml:"recipe_dir"`
	TraceDir  string       `yaml:"trace_dir"`
	LLM       LLMConfig    `yaml:"llm"`
	Probe     ProbeConfig  `yaml:"probe"`
	Workers   WorkerConfig `yaml:"workers"`
}

// LLMConfig configures the completion endpoint used for matching.
type LLMConfig struct {
	BaseURL string   `yaml:"base_url"`
	Model   string   `yaml:"model"`
	APIKey  string   `yaml:"api_key"` // prefer WORKORDER_LLM_API_KEY
	Timeout Duration `yaml:"timeout"`
}

// ProbeConfig selects and configures the read-only data probe.
type ProbeConfig struct {
	Kind     string         `yaml:"kind"` // "mcp" or "postgres"
	Timeout  Duration       `yaml:"timeout"`
	MCP      MCPProbeConfig `yaml:"mcp"`
	Postgres PGProbeConfig  `yaml:"postgres"`
}

// MCPProbeConfig configures the MCP data-service probe.
type MCPProbeConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"` // prefer WORKORDER_PROBE_TOKEN
	Tool    string `yaml:"tool"`
}

// PGProbeConfig configures the direct Postgres probe.
type PGProbeConfig struct {
	DSN string `yaml:"dsn"` // prefer WORKORDER_PG_DSN
}

// WorkerConfig sizes the task pool.
type WorkerConfig struct {
	Count      int `yaml:"count"`
	QueueDepth int `yaml:"queue_depth"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		RecipeDir: "recipes",
		TraceDir:  "traces",
		LLM:       LLMConfig{Timeout: Duration(30 * time.Second)},
		Probe:     ProbeConfig{Kind: ProbeMCP, Timeout: Duration(10 * time.Second)},
		Workers:   WorkerConfig{Count: 32, QueueDepth: 64},
	}
}

// Load reads a YAML config file, rejecting unknown fields, then applies
// environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // reject unknown fields
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv pulls secrets from the environment. Environment values win over
// file values so config files can stay free of credentials.
func (c *Config) applyEnv() {
	if v := os.Getenv("WORKORDER_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("WORKORDER_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("WORKORDER_PROBE_TOKEN"); v != "" {
		c.Probe.MCP.Token = v
	}
	if v := os.Getenv("WORKORDER_PG_DSN"); v != "" {
		c.Probe.Postgres.DSN = v
	}
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.RecipeDir == "" {
		return fmt.Errorf("recipe_dir is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	switch c.Probe.Kind {
	case ProbeMCP:
		if c.Probe.MCP.BaseURL == "" {
			return fmt.Errorf("probe.mcp.base_url is required for the mcp probe")
		}
	case ProbePostgres:
		if c.Probe.Postgres.DSN == "" {
			return fmt.Errorf("probe.postgres.dsn is required for the postgres probe")
		}
	default:
		return fmt.Errorf("probe.kind must be %q or %q, got %q", ProbeMCP, ProbePostgres, c.Probe.Kind)
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1")
	}
	if c.Workers.QueueDepth < 1 {
		return fmt.Errorf("workers.queue_depth must be at least 1")
	}
	return nil
}
