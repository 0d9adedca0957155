package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	WebSocket    WebSocketConfig    `toml:"websocket"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	MarketData   MarketDataConfig   `toml:"market_data"`
	Screener     ScreenerConfig     `toml:"screener"`
	Scoring      ScoringConfig      `toml:"scoring"`
	Gemini       GeminiConfig       `toml:"gemini"`
	Claude       ClaudeConfig       `toml:"claude"`
	LLM          LLMConfig          `toml:"llm"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
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

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// WebSocketConfig contains configuration for WebSocket progress streaming
type WebSocketConfig struct {
	ReplayLimit       int    `toml:"replay_limit"`       // Events replayed to a new subscriber (default: 10)
	HeartbeatInterval string `toml:"heartbeat_interval"` // Heartbeat injection interval (default: "12s")
	WriteTimeout      string `toml:"write_timeout"`      // Per-frame write deadline (default: "10s")
}

// OrchestratorConfig bounds task concurrency and phase behavior
type OrchestratorConfig struct {
	PoolSize        int     `toml:"pool_size"`         // Concurrent symbol workers per task (default: 3)
	MaxRunningTasks int     `toml:"max_running_tasks"` // Global ceiling on concurrently running tasks (default: 3)
	TaskDeadline    string  `toml:"task_deadline"`     // Soft deadline before a stalled task fails with timeout (default: "30m")
	ScreenCap       int     `toml:"screen_cap"`        // Minimum candidate cap for keyword screening (default: 20)
	MarketCap       int     `toml:"market_cap"`        // Candidate cap for market-wide screening (default: 50)
	ScreenPercent   float64 `toml:"screen_percent"`    // Progress share of the screen phase (default: 50)
}

// MarketDataConfig configures the price-history provider
type MarketDataConfig struct {
	APIKey        string `toml:"api_key"`        // EODHD API key; empty uses the local generator
	BaseURL       string `toml:"base_url"`       // API base URL override
	Exchange      string `toml:"exchange"`       // Exchange suffix appended to bare symbols (default: "US")
	DefaultPeriod string `toml:"default_period"` // History window when the task omits one (default: "6m")
	RateLimit     int    `toml:"rate_limit"`     // Requests per second (default: 10)
	Timeout       string `toml:"timeout"`        // HTTP timeout (default: "30s")
}

// ScreenerConfig configures candidate universe loading
type ScreenerConfig struct {
	UniverseFile string `toml:"universe_file"` // Optional YAML file mapping keywords to symbol lists
}

// ScoringConfig carries fusion and action thresholds
type ScoringConfig struct {
	Alpha         float64 `toml:"alpha"`          // Technical weight in fusion (default: 0.4)
	BuyThreshold  float64 `toml:"buy_threshold"`  // Fusion score at or above which action is buy (default: 7.0)
	HoldThreshold float64 `toml:"hold_threshold"` // Fusion score at or above which action is hold (default: 4.0)
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for AI operations (default: "gemini-3-flash-preview")
	Timeout     string  `toml:"timeout"`     // Per-call timeout as duration string (default: "10s")
	RateLimit   string  `toml:"rate_limit"`  // Rate limit duration string (default: "4s" for 15 RPM)
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 2048)
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for AI operations (default: "claude-haiku-3-5-20241022")
	Timeout     string  `toml:"timeout"`     // Per-call timeout as duration string (default: "10s")
	RateLimit   string  `toml:"rate_limit"`  // Rate limit duration string (default: "1s")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 2048)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // Default provider: "gemini" or "claude" (default: "gemini")
	// ProviderPriority enables cross-provider fallback when set. Empty list
	// means a failed provider surfaces its error without trying another.
	ProviderPriority []string `toml:"provider_priority"`
}

// SchedulerConfig controls the cron schedule runner
type SchedulerConfig struct {
	Enabled bool `toml:"enabled"` // Run stored task schedules (default: true)
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/auspex",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		WebSocket: WebSocketConfig{
			ReplayLimit:       10,    // Last 10 events replayed on connect
			HeartbeatInterval: "12s", // Keeps idle connections detectable
			WriteTimeout:      "10s",
		},
		Orchestrator: OrchestratorConfig{
			PoolSize:        3,     // Bounds concurrent AI calls per task
			MaxRunningTasks: 3,     // Global running-task ceiling
			TaskDeadline:    "30m", // Stalled tasks fail with timeout after this
			ScreenCap:       20,
			MarketCap:       50,
			ScreenPercent:   50, // screen maps to 0-50, analyze to 50-100
		},
		MarketData: MarketDataConfig{
			APIKey:        "", // Empty uses the deterministic local generator
			Exchange:      "US",
			DefaultPeriod: "6m",
			RateLimit:     10,
			Timeout:       "30s",
		},
		Scoring: ScoringConfig{
			Alpha:         0.4,
			BuyThreshold:  7.0,
			HoldThreshold: 4.0,
		},
		Gemini: GeminiConfig{
			APIKey:      "",
			Model:       "gemini-3-flash-preview",
			Timeout:     "10s",
			RateLimit:   "4s",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			Timeout:     "10s",
			RateLimit:   "1s",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files
// override earlier files; env vars override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("AUSPEX_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("AUSPEX_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("AUSPEX_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("AUSPEX_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("AUSPEX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("AUSPEX_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitString(output, ",")
	}

	if poolSize := os.Getenv("AUSPEX_POOL_SIZE"); poolSize != "" {
		if n, err := strconv.Atoi(poolSize); err == nil && n > 0 {
			config.Orchestrator.PoolSize = n
		}
	}
	if maxRunning := os.Getenv("AUSPEX_MAX_RUNNING_TASKS"); maxRunning != "" {
		if n, err := strconv.Atoi(maxRunning); err == nil && n > 0 {
			config.Orchestrator.MaxRunningTasks = n
		}
	}

	if alpha := os.Getenv("AUSPEX_FUSION_ALPHA"); alpha != "" {
		if a, err := strconv.ParseFloat(alpha, 64); err == nil && a >= 0 && a <= 1 {
			config.Scoring.Alpha = a
		}
	}

	if key := os.Getenv("AUSPEX_EODHD_API_KEY"); key != "" {
		config.MarketData.APIKey = key
	} else if key := os.Getenv("EODHD_API_KEY"); key != "" {
		config.MarketData.APIKey = key
	}

	if key := os.Getenv("AUSPEX_GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}

	if key := os.Getenv("AUSPEX_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}

	if provider := os.Getenv("AUSPEX_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
}

// ApplyFlagOverrides applies CLI flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// splitString splits a string by separator and trims whitespace
func splitString(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
