package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration for Red
type Config struct {
	Server    ServerConfig    `json:"server"`
	Bus       BusConfig       `json:"bus"`
	Store     StoreConfig     `json:"store"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Search    SearchConfig    `json:"search"`
	Command   CommandConfig   `json:"command"`
	Memory    MemoryConfig    `json:"memory"`
	RAG       RAGConfig       `json:"rag"`
}

// ServerConfig holds the HTTP ingress configuration
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	APIKey      string   `json:"api_key"`      // Bearer token; empty disables auth
	CORSOrigins []string `json:"cors_origins"` // Allowed CORS origins
}

// BusConfig holds the Redis bus configuration. An empty URL selects the
// in-memory bus for single-process runs.
type BusConfig struct {
	URL string `json:"url"`
}

// StoreConfig holds the durable store configuration. An empty URL selects
// the in-memory store.
type StoreConfig struct {
	URL      string `json:"url"`
	Database string `json:"database"`
}

// LLMConfig holds the OpenAI-compatible LLM backend configuration
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// EmbeddingConfig holds the embedding API used by the rag tool family
type EmbeddingConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// SearchConfig holds the web search provider configuration
type SearchConfig struct {
	Endpoint string `json:"endpoint"` // Brave-compatible endpoint; empty uses the provider default
	APIKey   string `json:"api_key"`
}

// CommandConfig holds the execute_command allow-list
type CommandConfig struct {
	AllowedCommands []string `json:"allowed_commands"`
}

// MemoryConfig tunes context assembly and summarisation
type MemoryConfig struct {
	MaxContextTokens     int    `json:"max_context_tokens"`
	SummaryCushionTokens int    `json:"summary_cushion_tokens"`
	SystemPrompt         string `json:"system_prompt"`
}

// RAGConfig holds the embedded vector database location
type RAGConfig struct {
	Path string `json:"path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".red")

	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3001,
		},
		Store: StoreConfig{
			Database: "red",
		},
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			Model:       "Red",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Embedding: EmbeddingConfig{
			URL:   "http://localhost:11434/v1",
			Model: "text-embedding-3-small",
		},
		Command: CommandConfig{
			AllowedCommands: []string{"ls", "cat", "date", "uptime", "df", "free", "uname", "echo"},
		},
		Memory: MemoryConfig{
			MaxContextTokens:     30000,
			SummaryCushionTokens: 2000,
		},
		RAG: RAGConfig{
			Path: filepath.Join(dataDir, "rag"),
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("RED_SERVER_HOST", &cfg.Server.Host)
	envInt("RED_SERVER_PORT", &cfg.Server.Port)
	envString("RED_API_KEY", &cfg.Server.APIKey)
	envStringSlice("RED_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	envString("RED_BUS_URL", &cfg.Bus.URL)
	envString("RED_STORE_URL", &cfg.Store.URL)
	envString("RED_STORE_DATABASE", &cfg.Store.Database)

	envString("RED_LLM_URL", &cfg.LLM.URL)
	envString("RED_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("RED_LLM_MODEL", &cfg.LLM.Model)
	envInt("RED_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("RED_LLM_TEMPERATURE", &cfg.LLM.Temperature)

	envString("RED_EMBEDDING_URL", &cfg.Embedding.URL)
	envString("RED_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	envString("RED_EMBEDDING_MODEL", &cfg.Embedding.Model)

	envString("BRAVE_API_KEY", &cfg.Search.APIKey)
	envString("RED_SEARCH_ENDPOINT", &cfg.Search.Endpoint)
	envString("RED_SEARCH_API_KEY", &cfg.Search.APIKey)

	envStringSlice("RED_ALLOWED_COMMANDS", &cfg.Command.AllowedCommands)
	envString("RED_RAG_PATH", &cfg.RAG.Path)

	// Bare names are part of the public contract
	envString("SYSTEM_PROMPT", &cfg.Memory.SystemPrompt)
	envInt("MAX_CONTEXT_TOKENS", &cfg.Memory.MaxContextTokens)
	envInt("SUMMARY_CUSHION_TOKENS", &cfg.Memory.SummaryCushionTokens)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsSearchConfigured returns true if a web search provider key is present
func (c *Config) IsSearchConfigured() bool {
	return c.Search.APIKey != ""
}

// IsEmbeddingConfigured returns true if the embedding service is configured
func (c *Config) IsEmbeddingConfigured() bool {
	return c.Embedding.URL != ""
}

// Addr returns the host:port the HTTP server binds to
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}
	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}

	if c.Embedding.URL != "" && !isValidURL(c.Embedding.URL) {
		errs = append(errs, "embedding URL must be a valid URL")
	}

	if c.Memory.MaxContextTokens < 1 {
		errs = append(errs, "max context tokens must be positive")
	}
	if c.Memory.SummaryCushionTokens < 0 {
		errs = append(errs, "summary cushion tokens must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("RED_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	configDir := filepath.Join(homeDir, ".config", "red")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	altPath := filepath.Join(homeDir, ".red", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
