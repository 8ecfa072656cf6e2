package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Graph       GraphConfig      `toml:"graph"`
	Pipeline    PipelineConfig   `toml:"pipeline"`
	Retry       RetryConfig      `toml:"retry"`
	Logging     LoggingConfig    `toml:"logging"`
	LLM         LLMConfig        `toml:"llm"`
	Claude      ClaudeConfig     `toml:"claude"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Embeddings  EmbeddingsConfig `toml:"embeddings"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Schedules   []ScheduleConfig `toml:"schedules"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// GraphConfig contains the Neo4j connection and pool tuning options
type GraphConfig struct {
	URI               string `toml:"uri"`                // bolt:// or neo4j:// URI
	Username          string `toml:"username"`           // Database user
	Password          string `toml:"password"`           // Database password (redacted from /api/config)
	Database          string `toml:"database"`           // Target database name (default "neo4j")
	PoolSize          int    `toml:"pool_size"`          // Max connection pool size
	ConnectionTimeout string `toml:"connection_timeout"` // Duration string, e.g. "30s"
	MaxRetryTime      string `toml:"max_retry_time"`     // Upper bound for transient retry, e.g. "30s"
}

// PipelineConfig controls orchestrator behavior and declares the step set
type PipelineConfig struct {
	FailFast       bool         `toml:"fail_fast"`       // Any step failure fails the job (default true)
	CancelDeadline string       `toml:"cancel_deadline"` // Hard deadline for cooperative cancellation (default "30s")
	EventTTL       string       `toml:"event_ttl"`       // Retention for progress events (default "1h")
	StepsFile      string       `toml:"steps_file"`      // Optional YAML file overriding the steps section
	Steps          []StepConfig `toml:"steps"`
}

// StepConfig declares one pipeline step and its tuning knobs
type StepConfig struct {
	Name           string         `toml:"name" yaml:"name"`
	Concurrency    int            `toml:"concurrency" yaml:"concurrency"`
	MaxRetries     int            `toml:"max_retries" yaml:"max_retries"`
	BackOffSeconds float64        `toml:"back_off_seconds" yaml:"back_off_seconds"`
	TimeoutSeconds int            `toml:"timeout_seconds" yaml:"timeout_seconds"`
	Params         map[string]any `toml:"params" yaml:"params"`
}

// RetryConfig holds global retry defaults applied when a step omits its own
type RetryConfig struct {
	MaxRetries     int     `toml:"max_retries"`
	BackOffSeconds float64 `toml:"back_off_seconds"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "claude" or "gemini" (default: "claude")
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model name (default: "claude-haiku-3-5-20241022")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 4096)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "2m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum interval between requests (default: "1s")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.2)
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // default: "gemini-2.0-flash"
	Timeout     string  `toml:"timeout"`     // default: "2m"
	RateLimit   string  `toml:"rate_limit"`  // default: "4s"
	Temperature float32 `toml:"temperature"` // default: 0.2
}

// EmbeddingsConfig configures the OpenAI-compatible embedding endpoint
type EmbeddingsConfig struct {
	Endpoint  string `toml:"endpoint"`  // e.g. "http://localhost:11434/v1"
	Model     string `toml:"model"`     // embedding model name
	Dimension int    `toml:"dimension"` // vector dimension (default 1536)
	Timeout   string `toml:"timeout"`   // request timeout (default "30s")
}

// WebSocketConfig contains configuration for progress event streaming
type WebSocketConfig struct {
	BufferSize    int      `toml:"buffer_size"`    // Per-subscriber event buffer before detach (default: 256)
	AllowedEvents []string `toml:"allowed_events"` // Whitelist of event kinds to broadcast. Empty allows all.
}

// ScheduleConfig declares a recurring ingestion run
type ScheduleConfig struct {
	Name     string   `toml:"name"`
	Cron     string   `toml:"cron"`      // Cron schedule expression
	RepoPath string   `toml:"repo_path"` // Repository to re-ingest
	Steps    []string `toml:"steps"`     // Step names; empty means all configured steps
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in codestory.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/codestory",
				ResetOnStartup: false,
			},
		},
		Graph: GraphConfig{
			URI:               "bolt://localhost:7687",
			Username:          "neo4j",
			Database:          "neo4j",
			PoolSize:          50,
			ConnectionTimeout: "30s",
			MaxRetryTime:      "30s",
		},
		Pipeline: PipelineConfig{
			FailFast:       true,
			CancelDeadline: "30s",
			EventTTL:       "1h",
			Steps: []StepConfig{
				{Name: "filesystem", Concurrency: 1, TimeoutSeconds: 600},
				{Name: "astextract", Concurrency: 1, TimeoutSeconds: 300},
				{Name: "summarizer", Concurrency: 5, TimeoutSeconds: 1800},
				{Name: "docgrapher", Concurrency: 1, TimeoutSeconds: 600},
			},
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			BackOffSeconds: 2.0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderClaude,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   4096,
			Timeout:     "2m",
			RateLimit:   "1s",
			Temperature: 0.2,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.0-flash",
			Timeout:     "2m",
			RateLimit:   "4s",
			Temperature: 0.2,
		},
		Embeddings: EmbeddingsConfig{
			Endpoint:  "http://localhost:11434/v1",
			Model:     "nomic-embed-text",
			Dimension: 1536,
			Timeout:   "30s",
		},
		WebSocket: WebSocketConfig{
			BufferSize: 256,
		},
	}
}

// LoadFromFiles loads configuration from one or more TOML files.
// Later files override earlier ones; environment variables override files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Optional standalone YAML steps document overrides the [pipeline.steps] section
	if config.Pipeline.StepsFile != "" {
		if err := loadStepsFile(config); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadStepsFile replaces the configured step set from a YAML document
func loadStepsFile(config *Config) error {
	data, err := os.ReadFile(config.Pipeline.StepsFile)
	if err != nil {
		return fmt.Errorf("failed to read steps file %s: %w", config.Pipeline.StepsFile, err)
	}

	var doc struct {
		Steps []StepConfig `yaml:"steps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse steps file %s: %w", config.Pipeline.StepsFile, err)
	}
	if len(doc.Steps) == 0 {
		return fmt.Errorf("steps file %s declares no steps", config.Pipeline.StepsFile)
	}

	config.Pipeline.Steps = doc.Steps
	return nil
}

// applyEnvOverrides applies CODESTORY_* environment variable overrides
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CODESTORY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("CODESTORY_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("CODESTORY_GRAPH_URI"); v != "" {
		config.Graph.URI = v
	}
	if v := os.Getenv("CODESTORY_GRAPH_USERNAME"); v != "" {
		config.Graph.Username = v
	}
	if v := os.Getenv("CODESTORY_GRAPH_PASSWORD"); v != "" {
		config.Graph.Password = v
	}
	if v := os.Getenv("CODESTORY_GRAPH_DATABASE"); v != "" {
		config.Graph.Database = v
	}
	if v := os.Getenv("CODESTORY_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CODESTORY_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = v
	}
}

// validateConfig checks cross-field constraints that TOML parsing cannot express
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required")
	}
	if config.Graph.PoolSize <= 0 {
		return fmt.Errorf("graph.pool_size must be positive, got %d", config.Graph.PoolSize)
	}
	if _, err := time.ParseDuration(config.Pipeline.CancelDeadline); err != nil {
		return fmt.Errorf("invalid pipeline.cancel_deadline %q: %w", config.Pipeline.CancelDeadline, err)
	}
	if _, err := time.ParseDuration(config.Pipeline.EventTTL); err != nil {
		return fmt.Errorf("invalid pipeline.event_ttl %q: %w", config.Pipeline.EventTTL, err)
	}
	seen := make(map[string]bool)
	for _, step := range config.Pipeline.Steps {
		if step.Name == "" {
			return fmt.Errorf("pipeline step with empty name")
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate pipeline step: %s", step.Name)
		}
		seen[step.Name] = true
		if step.Concurrency < 0 {
			return fmt.Errorf("step %s: concurrency cannot be negative", step.Name)
		}
	}
	for _, sched := range config.Schedules {
		if sched.Cron == "" || sched.RepoPath == "" {
			return fmt.Errorf("schedule %q: cron and repo_path are required", sched.Name)
		}
	}

	switch config.LLM.DefaultProvider {
	case LLMProviderClaude, LLMProviderGemini:
	default:
		return fmt.Errorf("invalid llm.default_provider %q: must be 'claude' or 'gemini'", config.LLM.DefaultProvider)
	}

	return nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// CancelDeadlineDuration returns the parsed cooperative-cancellation hard deadline
func (p *PipelineConfig) CancelDeadlineDuration() time.Duration {
	d, err := time.ParseDuration(p.CancelDeadline)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// EventTTLDuration returns the parsed progress event retention window
func (p *PipelineConfig) EventTTLDuration() time.Duration {
	d, err := time.ParseDuration(p.EventTTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// StepByName returns the configured step entry, if declared
func (p *PipelineConfig) StepByName(name string) (StepConfig, bool) {
	for _, step := range p.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return StepConfig{}, false
}

// Redacted returns a copy of the config safe to expose over the API.
// Connection secrets are masked; everything else passes through.
func (c *Config) Redacted() *Config {
	clone := *c
	if clone.Graph.Password != "" {
		clone.Graph.Password = "********"
	}
	if clone.Claude.APIKey != "" {
		clone.Claude.APIKey = redactKey(clone.Claude.APIKey)
	}
	if clone.Gemini.APIKey != "" {
		clone.Gemini.APIKey = redactKey(clone.Gemini.APIKey)
	}
	return &clone
}

func redactKey(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "..." + strings.Repeat("*", 4)
}
