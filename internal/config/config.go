// Package config provides configuration management for the SatQuery server.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including server port, client API
// keys, upstream model access, knowledge-base storage, and answer playback.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/satquery/satquery/internal/validation"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUpstreamTimeoutSeconds bounds a single upstream completion call.
	DefaultUpstreamTimeoutSeconds = 300

	// DefaultKnowledgeTopK is the number of snippets retrieved per question
	// when the request does not override it.
	DefaultKnowledgeTopK = 5

	// DefaultSnippetTokenBudget caps the prompt tokens spent on retrieved
	// knowledge snippets.
	DefaultSnippetTokenBudget = 2048
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug-level logging when true.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output from stdout to rotating files.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the logs directory.
	// <= 0 disables the background cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// RequestLog enables detailed request logging functionality.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// APIKeys is a list of keys for authenticating clients of the ask API.
	APIKeys []string `yaml:"api-keys" json:"api-keys"`

	// RemoteManagement guards the /v0/management endpoints.
	RemoteManagement RemoteManagement `yaml:"remote-management" json:"remote-management"`

	// Upstream configures the hosted chat-completions API questions are
	// forwarded to.
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// Knowledge configures the vector-search knowledge base.
	Knowledge KnowledgeConfig `yaml:"knowledge" json:"knowledge"`

	// TTS configures spoken-answer playback defaults.
	TTS TTSConfig `yaml:"tts" json:"tts"`
}

// RemoteManagement holds management endpoint access settings.
type RemoteManagement struct {
	// SecretKey authenticates management calls. It may be stored as
	// plaintext or as a sha256 hex digest; comparison accepts both.
	SecretKey string `yaml:"secret-key" json:"secret-key"`
}

// UpstreamConfig describes the OpenAI-compatible chat completions upstream.
type UpstreamConfig struct {
	// BaseURL is the upstream API root, e.g. "https://api.openai.com/v1".
	BaseURL string `yaml:"base-url" json:"base-url"`

	// APIKey authenticates this server against the upstream.
	// The UPSTREAM_API_KEY environment variable takes precedence.
	APIKey string `yaml:"api-key" json:"api-key"`

	// Model is the chat model used to answer questions.
	Model string `yaml:"model" json:"model"`

	// SystemPrompt overrides the built-in Bitcoin assistant persona.
	SystemPrompt string `yaml:"system-prompt,omitempty" json:"system-prompt,omitempty"`

	// TimeoutSeconds bounds a single completion call. <= 0 uses the default.
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// KnowledgeConfig describes the local vector store and its embedding source.
type KnowledgeConfig struct {
	// Enabled toggles retrieval augmentation. When false, questions are
	// forwarded to the upstream without knowledge-base context.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DBPath is the SQLite database file backing the knowledge base.
	DBPath string `yaml:"db-path" json:"db-path"`

	// EmbeddingModel names the embedding model, e.g. "gemini-embedding-001".
	EmbeddingModel string `yaml:"embedding-model,omitempty" json:"embedding-model,omitempty"`

	// EmbeddingAPIKey authenticates against the embedding API.
	// The GEMINI_API_KEY environment variable takes precedence.
	EmbeddingAPIKey string `yaml:"embedding-api-key,omitempty" json:"embedding-api-key,omitempty"`

	// TopK is the default number of snippets retrieved per question.
	TopK int `yaml:"top-k,omitempty" json:"top-k,omitempty"`

	// SnippetTokenBudget caps prompt tokens spent on retrieved snippets.
	SnippetTokenBudget int `yaml:"snippet-token-budget,omitempty" json:"snippet-token-budget,omitempty"`
}

// TTSConfig holds spoken-answer playback settings.
type TTSConfig struct {
	// Enabled toggles text-to-speech metadata on answers.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Voice names the synthesis voice advertised to clients.
	Voice string `yaml:"voice,omitempty" json:"voice,omitempty"`

	// DefaultVolume is the playback gain applied when a request does not
	// carry its own volume. Absent means no volume constraint. Must lie in
	// [0.0, 1.0]; values outside the range reject the whole config.
	DefaultVolume *float64 `yaml:"default-volume,omitempty" json:"default-volume,omitempty"`
}

// LoadConfig reads and parses the configuration file at the given path.
// It rejects configurations that fail strict validation, such as an
// out-of-range tts default volume.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
	}
	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing or empty
// file when optional is true, returning an empty config instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		if optional {
			return &Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate applies fail-fast checks on loaded values. Playback volume uses
// the strict validator so malformed configuration is rejected at load time
// rather than silently dropped per request.
func (c *Config) Validate() error {
	if _, err := validation.CheckVolumeStrict(c.TTS.DefaultVolume); err != nil {
		return fmt.Errorf("config: tts.default-volume: %w", err)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d is out of range [0, 65535]", c.Port)
	}
	if c.Knowledge.Enabled && strings.TrimSpace(c.Knowledge.DBPath) == "" {
		return fmt.Errorf("config: knowledge.db-path is required when knowledge.enabled is true")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = DefaultUpstreamTimeoutSeconds
	}
	if c.Knowledge.TopK <= 0 {
		c.Knowledge.TopK = DefaultKnowledgeTopK
	}
	if c.Knowledge.SnippetTokenBudget <= 0 {
		c.Knowledge.SnippetTokenBudget = DefaultSnippetTokenBudget
	}
}

// UpstreamAPIKey resolves the upstream API key, preferring the environment.
func (c *Config) UpstreamAPIKey() string {
	if v := strings.TrimSpace(os.Getenv("UPSTREAM_API_KEY")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Upstream.APIKey)
}

// EmbeddingAPIKey resolves the embedding API key, preferring the environment.
func (c *Config) EmbeddingAPIKey() string {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Knowledge.EmbeddingAPIKey)
}
