// Package config loads the planner configuration from YAML with environment
// variable expansion and .env support.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gtplanner/gtplanner/pkg/embedders"
	"github.com/gtplanner/gtplanner/pkg/observability"
	"github.com/gtplanner/gtplanner/pkg/prefabs"
	"github.com/gtplanner/gtplanner/pkg/prompts"
	"github.com/gtplanner/gtplanner/pkg/research"
	"github.com/gtplanner/gtplanner/pkg/session"
	"github.com/gtplanner/gtplanner/pkg/vector"
)

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`

	// Timeout in seconds for one completion request.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRecursionDepth bounds model round-trips per turn.
	MaxRecursionDepth int `yaml:"max_recursion_depth,omitempty"`
}

func (c *LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// PrefabsConfig configures the prefab catalog and gateway.
type PrefabsConfig struct {
	CatalogPath string                `yaml:"catalog_path,omitempty"`
	Gateway     prefabs.GatewayConfig `yaml:"gateway,omitempty"`
}

// ServerConfig configures the HTTP and MCP surfaces.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ExportConfig configures document export.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir,omitempty"`
}

// HistoryConfig configures history compression for stored sessions.
type HistoryConfig struct {
	// MaxTokens is the budget for replayed dialogue history. Zero disables
	// compression.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// Config is the root configuration.
type Config struct {
	LLM      LLMConfig              `yaml:"llm"`
	Embedder embedders.Config       `yaml:"embedder,omitempty"`
	Vector   vector.Config          `yaml:"vector,omitempty"`
	Prefabs  PrefabsConfig          `yaml:"prefabs,omitempty"`
	Research research.Config        `yaml:"research,omitempty"`
	Prompts  prompts.Config         `yaml:"prompts,omitempty"`
	Database session.DatabaseConfig `yaml:"database,omitempty"`
	History  HistoryConfig          `yaml:"history,omitempty"`
	Server   ServerConfig           `yaml:"server,omitempty"`
	Export   ExportConfig           `yaml:"export,omitempty"`

	Metrics observability.MetricsConfig `yaml:"metrics,omitempty"`
	Tracing observability.TracerConfig  `yaml:"tracing,omitempty"`
}

// Load reads the config file, expands ${VAR} and ${VAR:-default} references,
// applies environment overrides and defaults, and validates the result. A
// missing path yields a default config driven entirely by the environment.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else {
			if err := parseYAML(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseYAML(data []byte, cfg *Config) error {
	// Expand env references on the generic tree first so defaults like
	// ${QDRANT_PORT:-6334} decode into typed fields.
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	expanded := ExpandEnvVarsInData(raw)

	normalized, err := yaml.Marshal(expanded)
	if err != nil {
		return fmt.Errorf("failed to normalize config: %w", err)
	}
	if err := yaml.Unmarshal(normalized, cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// applyEnvOverrides fills credentials and common knobs from the environment
// when the file leaves them empty.
func (c *Config) applyEnvOverrides() {
	setIfEmpty(&c.LLM.APIKey, "GTPLANNER_LLM_API_KEY", "OPENAI_API_KEY")
	setIfEmpty(&c.LLM.BaseURL, "GTPLANNER_LLM_BASE_URL")
	setIfEmpty(&c.LLM.Model, "GTPLANNER_LLM_MODEL")
	setIfEmpty(&c.Embedder.APIKey, "GTPLANNER_EMBEDDER_API_KEY", "OPENAI_API_KEY")
	setIfEmpty(&c.Research.APIKey, "JINA_API_KEY")
	setIfEmpty(&c.Prefabs.Gateway.APIKey, "AGENT_BUILDER_API_KEY")
	setIfEmpty(&c.Prefabs.Gateway.BaseURL, "AGENT_BUILDER_BASE_URL")
	setIfEmpty(&c.Prompts.DefaultLanguage, "GTPLANNER_LANGUAGE")
	setIfEmpty(&c.Export.OutputDir, "GTPLANNER_OUTPUT_DIR")
}

func setIfEmpty(target *string, envVars ...string) {
	if *target != "" {
		return
	}
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			*target = val
			return
		}
	}
}

func (c *Config) SetDefaults() {
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120
	}
	if c.LLM.MaxRecursionDepth == 0 {
		c.LLM.MaxRecursionDepth = 5
	}
	c.Vector.SetDefaults()
	c.Database.SetDefaults()
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "output"
	}
	if c.History.MaxTokens == 0 {
		c.History.MaxTokens = 64000
	}
}

func (c *Config) Validate() error {
	if c.LLM.MaxRecursionDepth < 1 {
		return fmt.Errorf("llm: max_recursion_depth must be at least 1")
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	return nil
}
