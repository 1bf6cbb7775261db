package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server    ServerConfig    `toml:"server"`    // HTTP server settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
	Storage   StorageConfig   `toml:"storage"`   // Data persistence settings
	Session   SessionConfig   `toml:"session"`   // Session lifecycle settings
	Pipeline  PipelineConfig  `toml:"pipeline"`  // Retrieval+generation pipeline settings
	Retrieval RetrievalConfig `toml:"retrieval"` // Knowledge retriever settings
	AI        AIConfig        `toml:"ai"`        // Answer generator provider selection
	Gemini    GeminiConfig    `toml:"gemini"`    // Google Gemini settings
	OpenAI    OpenAIConfig    `toml:"openai"`    // OpenAI settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for websocket streaming)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`       // Log level: "debug", "info", "warn", or "error"
	Format     string `toml:"format"`      // Log format: "json" (structured) or "console" (human-readable)
	FilePath   string `toml:"file_path"`   // Optional path for a rotating log file (empty = stdout only)
	MaxSizeMB  int    `toml:"max_size_mb"` // Max log file size in MB before rotation
	MaxBackups int    `toml:"max_backups"` // Number of rotated log files to keep
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// SessionConfig contains session lifecycle configuration
type SessionConfig struct {
	TTLHours          int `toml:"ttl_hours"`              // Hours until a session expires after creation (default 24)
	SweepIntervalSecs int `toml:"sweep_interval_seconds"` // How often the registry sweeps for expired sessions (default 60)
}

// PipelineConfig contains settings for the retrieval+generation pipeline
type PipelineConfig struct {
	TimeoutSecs      int `toml:"timeout_seconds"`    // Combined budget for retrieval + generation per fragment (default 30)
	MaxConcurrent    int `toml:"max_concurrent"`     // Maximum pipeline tasks in flight across all sessions (default 8)
	MinFragmentChars int `toml:"min_fragment_chars"` // Fragments shorter than this never trigger the pipeline (default 10)
}

// RetrievalConfig contains settings for the knowledge retriever service
type RetrievalConfig struct {
	BaseURL     string  `toml:"base_url"`        // Base URL of the vector search service
	APIKey      string  `toml:"api_key"`         // API key sent as a bearer token
	TopK        int     `toml:"top_k"`           // Number of passages to request (default 3)
	MinScore    float64 `toml:"min_score"`       // Minimum similarity score to keep a passage (default 0.7)
	TimeoutSecs int     `toml:"timeout_seconds"` // Per-request timeout (default 10)
}

// AIConfig selects the answer generator provider
type AIConfig struct {
	Provider string `toml:"provider"` // "gemini" or "openai"
}

// GeminiConfig contains Google Gemini settings
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"` // Gemini API key
	Model       string  `toml:"model"`   // Model name (e.g., "gemini-2.0-flash")
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// OpenAIConfig contains OpenAI settings
type OpenAIConfig struct {
	APIKey      string  `toml:"api_key"`  // OpenAI API key
	BaseURL     string  `toml:"base_url"` // Optional base URL override (e.g., for proxies)
	Model       string  `toml:"model"`    // Model name (e.g., "gpt-4o-mini")
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// Load reads and parses the configuration file at the given path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// LoadWithFallback loads configuration with a search order:
// user-specified path, configs/ directory, then the working directory.
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

func (c *Config) applyDefaults() {
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = 24
	}
	if c.Session.SweepIntervalSecs <= 0 {
		c.Session.SweepIntervalSecs = 60
	}
	if c.Pipeline.TimeoutSecs <= 0 {
		c.Pipeline.TimeoutSecs = 30
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		c.Pipeline.MaxConcurrent = 8
	}
	if c.Pipeline.MinFragmentChars <= 0 {
		c.Pipeline.MinFragmentChars = 10
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 3
	}
	if c.Retrieval.MinScore <= 0 {
		c.Retrieval.MinScore = 0.7
	}
	if c.Retrieval.TimeoutSecs <= 0 {
		c.Retrieval.TimeoutSecs = 10
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	switch c.AI.Provider {
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key is required when ai.provider is gemini")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("gemini.model is required when ai.provider is gemini")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required when ai.provider is openai")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("openai.model is required when ai.provider is openai")
		}
	default:
		return fmt.Errorf("unsupported ai.provider: %q (expected gemini or openai)", c.AI.Provider)
	}

	if c.Retrieval.BaseURL == "" {
		return fmt.Errorf("retrieval.base_url is required")
	}

	return nil
}
